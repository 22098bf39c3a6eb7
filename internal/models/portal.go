package models

// PortalCategory classifies a portal within the registry
type PortalCategory string

const (
	PortalCategoryCentral PortalCategory = "central"
	PortalCategoryState   PortalCategory = "state"
	PortalCategoryPSU     PortalCategory = "psu"
	PortalCategoryCustom  PortalCategory = "custom"
)

// Portal is the immutable per-run configuration of one tender portal.
// Name is the case-sensitive registry selection key; normalization is
// applied only when the name becomes part of a tender identity.
type Portal struct {
	Name            string         `json:"name" yaml:"name" validate:"required"`
	BaseURL         string         `json:"base_url" yaml:"base_url" validate:"required,url"`
	OrgListURL      string         `json:"org_list_url,omitempty" yaml:"org_list_url,omitempty" validate:"omitempty,url"`
	Keyword         string         `json:"keyword,omitempty" yaml:"keyword,omitempty"`
	SkillID         string         `json:"skill_id" yaml:"skill_id"` // defaults to "nic" when empty
	Category        PortalCategory `json:"category" yaml:"category" validate:"omitempty,oneof=central state psu custom"`
	RateLimitRPM    int            `json:"rate_limit_rpm" yaml:"rate_limit_rpm" validate:"omitempty,min=1"`
	CooldownSeconds int            `json:"cooldown_seconds" yaml:"cooldown_seconds" validate:"omitempty,min=0"`
	Schedule        string         `json:"schedule,omitempty" yaml:"schedule,omitempty"` // optional cron expression for the scheduler
}

// ListURL returns the department list URL, falling back to the base URL
func (p *Portal) ListURL() string {
	if p.OrgListURL != "" {
		return p.OrgListURL
	}
	return p.BaseURL
}

// ChangeHint is the result of a cheap pre-run change probe
type ChangeHint string

const (
	ChangeHintChanged   ChangeHint = "changed"
	ChangeHintUnchanged ChangeHint = "unchanged"
	ChangeHintUnknown   ChangeHint = "unknown"
)
