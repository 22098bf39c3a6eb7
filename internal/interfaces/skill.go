package interfaces

import (
	"context"

	"github.com/ternarybob/quaestor/internal/models"
)

// PortalSkill encapsulates all portal-family-specific knowledge: locators,
// navigation and row parsing. One implementation covers one portal family;
// adding a portal family is a new skill, not new branches.
type PortalSkill interface {
	// ID returns the registry key the skill is selected by
	ID() string

	// ListDepartments returns the portal's organisation list in portal order.
	// Fails with a navigation-kind error if the list page cannot be reached
	// after the session's configured retries.
	ListDepartments(ctx context.Context, session BrowserSession, portal *models.Portal) ([]models.Department, error)

	// OpenDepartment lands the session on dept's tender list page. The
	// boolean is false when the portal no longer lists the department.
	OpenDepartment(ctx context.Context, session BrowserSession, portal *models.Portal, dept *models.Department) (bool, error)

	// ExtractTenderRows walks the current department's tender list including
	// pagination, returning rows in portal order with ids deduplicated
	// within the page set. Rows carry the list-page closing text used by
	// delta skip decisions.
	ExtractTenderRows(ctx context.Context, session BrowserSession) ([]models.TenderRow, error)

	// ExtractTenderDetails fetches one tender's detail record. A (nil, nil)
	// return is a soft miss: the row vanished mid-scrape, not an error.
	ExtractTenderDetails(ctx context.Context, session BrowserSession, portal *models.Portal, row *models.TenderRow) (*models.Tender, error)

	// DetectFastChange is an optional cheap probe of the portal list page.
	// ChangeHintUnknown never blocks a run.
	DetectFastChange(ctx context.Context, portal *models.Portal) (models.ChangeHint, error)
}

// SkillRegistry maps skill ids to constructed skills
type SkillRegistry interface {
	// Get returns the skill registered under id
	Get(id string) (PortalSkill, error)

	// Register adds a skill; duplicate ids are an error
	Register(skill PortalSkill) error

	// IDs lists the registered skill ids sorted
	IDs() []string
}
