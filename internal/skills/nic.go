package skills

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/quaestor/internal/common"
	"github.com/ternarybob/quaestor/internal/httpclient"
	"github.com/ternarybob/quaestor/internal/models"
)

// SkillIDNIC is the registry id of the dominant portal family skill. Most
// state and central government portals are instances of the same NIC
// eProcure codebase and differ only in base URL.
const SkillIDNIC = "nic"

// NICSkill drives NIC eProcure-style portals: an organisation list page, a
// per-organisation tender table with pagination, and a detail page of
// label/value rows per tender.
type NICSkill struct {
	config *common.ScraperConfig
	logger arbor.ILogger

	// httpClient serves the cheap change probe only; all extraction goes
	// through the browser session.
	httpClient *http.Client

	mu         sync.Mutex
	pageHashes map[string]string // portal name -> last list page hash
}

// NewNICSkill creates the NIC portal family skill
func NewNICSkill(config *common.ScraperConfig, logger arbor.ILogger) *NICSkill {
	return &NICSkill{
		config:     config,
		logger:     logger,
		httpClient: httpclient.New(20 * time.Second),
		pageHashes: make(map[string]string),
	}
}

// ID returns the registry key the skill is selected by
func (s *NICSkill) ID() string {
	return SkillIDNIC
}

// DetectFastChange fetches the organisation list page over plain HTTP and
// compares its hash to the previous probe. The first probe of a portal and
// any fetch failure report unknown; unknown never blocks a run.
func (s *NICSkill) DetectFastChange(ctx context.Context, portal *models.Portal) (models.ChangeHint, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, portal.ListURL(), nil)
	if err != nil {
		return models.ChangeHintUnknown, nil
	}
	req.Header.Set("User-Agent", s.config.UserAgent)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.logger.Debug().Err(err).Str("portal", portal.Name).Msg("Change probe fetch failed")
		return models.ChangeHintUnknown, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.ChangeHintUnknown, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return models.ChangeHintUnknown, nil
	}

	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])

	s.mu.Lock()
	defer s.mu.Unlock()

	previous, seen := s.pageHashes[portal.Name]
	s.pageHashes[portal.Name] = hash

	if !seen {
		return models.ChangeHintUnknown, nil
	}
	if previous == hash {
		return models.ChangeHintUnchanged, nil
	}
	return models.ChangeHintChanged, nil
}

// captchaMarkers are substrings whose presence on a page means the portal
// has challenged the session. The department fails with a captcha kind and
// the run continues.
var captchaMarkers = []string{
	"captchaimage",
	"id=\"captcha\"",
	"name=\"captcha\"",
	"enter captcha",
}

// isCaptchaPage reports whether the current HTML is a CAPTCHA or login wall
func isCaptchaPage(html string) bool {
	lower := strings.ToLower(html)
	for _, marker := range captchaMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// parseTenderCount extracts the integer from a tender count cell. Portals
// render counts plain ("42") or decorated ("42 Tenders"); -1 means the text
// did not parse and quick delta must treat the department as changed.
func parseTenderCount(text string) int {
	fields := strings.FieldsFunc(strings.TrimSpace(text), func(r rune) bool {
		return r < '0' || r > '9'
	})
	if len(fields) == 0 {
		return -1
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		return -1
	}
	return n
}

// parseAmount extracts a numeric amount from portal money text like
// "₹ 5,00,000" or "2,50,000.00". Returns nil when no digits survive; the
// raw text is always preserved alongside.
func parseAmount(text string) *float64 {
	cleaned := strings.Map(func(r rune) rune {
		if (r >= '0' && r <= '9') || r == '.' {
			return r
		}
		return -1
	}, text)
	if cleaned == "" || cleaned == "." {
		return nil
	}
	value, err := strconv.ParseFloat(cleaned, 64)
	if err != nil {
		return nil
	}
	return &value
}

// resolveURL joins href against the portal base, tolerating absolute hrefs
func resolveURL(baseURL, href string) string {
	href = strings.TrimSpace(href)
	if href == "" {
		return ""
	}
	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}
	base := strings.TrimRight(baseURL, "/")
	if strings.HasPrefix(href, "/") {
		// Keep scheme://host only.
		if idx := strings.Index(base, "://"); idx >= 0 {
			if slash := strings.Index(base[idx+3:], "/"); slash >= 0 {
				base = base[:idx+3+slash]
			}
		}
		return base + href
	}
	if strings.HasPrefix(href, "?") {
		return base + "/" + href
	}
	return base + "/" + href
}

// cellText returns the trimmed, space-collapsed text of a string
func cellText(text string) string {
	return strings.Join(strings.Fields(text), " ")
}
