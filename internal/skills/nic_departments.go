package skills

import (
	"context"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/quaestor/internal/common"
	"github.com/ternarybob/quaestor/internal/interfaces"
	"github.com/ternarybob/quaestor/internal/models"
)

// departmentTableSelectors are tried in order against the organisation list
// page. NIC instances name the table inconsistently across versions.
var departmentTableSelectors = []string{
	"table#table tr",
	"table.list_table tr",
	"table#tendersTable tr",
	"table tr",
}

// ListDepartments fetches the portal's organisation list in portal order.
// The list page is reached through the session so the same cookies serve
// the later department visits.
func (s *NICSkill) ListDepartments(ctx context.Context, session interfaces.BrowserSession, portal *models.Portal) ([]models.Department, error) {
	if err := session.Navigate(ctx, portal.ListURL(), "table"); err != nil {
		return nil, models.NewScrapeError(models.ErrKindNavigation, "organisation list page unreachable", err)
	}

	html, err := session.HTML(ctx)
	if err != nil {
		return nil, err
	}
	if isCaptchaPage(html) {
		return nil, models.NewScrapeError(models.ErrKindCaptcha, "organisation list behind captcha", nil)
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, models.NewScrapeError(models.ErrKindParserMiss, "organisation list page did not parse", err)
	}

	departments := s.parseDepartmentTable(doc, portal)
	if len(departments) == 0 {
		return nil, models.NewScrapeError(models.ErrKindNavigation, "no organisation rows found on list page", nil)
	}

	s.logger.Info().
		Str("portal", portal.Name).
		Int("departments", len(departments)).
		Msg("Organisation list fetched")

	return departments, nil
}

// parseDepartmentTable walks the first selector that yields organisation
// rows. Rows carry serial number, a linked organisation name and a tender
// count; header rows and decoration rows have no usable count cell and are
// skipped.
func (s *NICSkill) parseDepartmentTable(doc *goquery.Document, portal *models.Portal) []models.Department {
	var departments []models.Department
	seen := make(map[string]bool)

	for _, selector := range departmentTableSelectors {
		doc.Find(selector).Each(func(i int, row *goquery.Selection) {
			cells := row.Find("td")
			if cells.Length() < 2 {
				return
			}

			serial := cellText(cells.Eq(0).Text())
			nameCell := cells.Eq(1)
			name := cellText(nameCell.Text())
			countText := cellText(cells.Eq(cells.Length() - 1).Text())

			// Organisation rows link the name (or the count) to the
			// per-department tender list.
			href, _ := nameCell.Find("a").Attr("href")
			if href == "" {
				href, _ = cells.Eq(cells.Length() - 1).Find("a").Attr("href")
			}

			// A usable organisation row has a name plus either a parseable
			// count or a link; anything else is a header or decoration row.
			if name == "" || (parseTenderCount(countText) < 0 && href == "") {
				return
			}

			norm := common.NormalizeDepartmentName(name)
			if norm == "" || seen[norm] {
				return
			}
			seen[norm] = true

			departments = append(departments, models.Department{
				SerialNo:        serial,
				Name:            name,
				NameNorm:        norm,
				TenderCountText: countText,
				TenderCount:     parseTenderCount(countText),
				DirectURL:       resolveURL(portal.BaseURL, href),
			})
		})

		if len(departments) > 0 {
			break
		}
	}

	return departments
}

// OpenDepartment lands the session on dept's tender list page. A department
// without a direct link, or one the portal no longer lists, reports false
// without an error.
func (s *NICSkill) OpenDepartment(ctx context.Context, session interfaces.BrowserSession, portal *models.Portal, dept *models.Department) (bool, error) {
	if dept.DirectURL == "" {
		s.logger.Warn().
			Str("portal", portal.Name).
			Str("department", dept.Name).
			Msg("Department has no direct link, skipping")
		return false, nil
	}

	if err := session.Navigate(ctx, dept.DirectURL, "table"); err != nil {
		return false, err
	}

	html, err := session.HTML(ctx)
	if err != nil {
		return false, err
	}
	if isCaptchaPage(html) {
		return false, models.NewScrapeError(models.ErrKindCaptcha, "department page behind captcha", nil)
	}

	// The portal renders a dedicated message when an organisation has been
	// removed between the list fetch and the visit.
	lower := strings.ToLower(html)
	if strings.Contains(lower, "no tenders available") && !strings.Contains(lower, "tender id") {
		s.logger.Debug().
			Str("portal", portal.Name).
			Str("department", dept.Name).
			Msg("Department page reports no tenders")
	}

	return true, nil
}
