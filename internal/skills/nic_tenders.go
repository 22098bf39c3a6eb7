package skills

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"github.com/ternarybob/quaestor/internal/common"
	"github.com/ternarybob/quaestor/internal/interfaces"
	"github.com/ternarybob/quaestor/internal/models"
)

// tenderRowSelector matches data rows of the tender list table across NIC
// instance versions.
var tenderRowSelectors = []string{
	"table#table tr",
	"table.list_table tr",
	"table tr",
}

// nextPageSelectors locate the pagination forward link
var nextPageSelectors = []string{
	"a#linkFwd",
	"a#loadNext",
	"a[title='Next Page']",
}

// maxListPages bounds pagination traversal so a portal that links page 1
// as "next" forever cannot spin a worker.
const maxListPages = 500

// nicListRow is the JSON shape returned by the batched in-page extraction
// script; the DOM fallback fills the same shape.
type nicListRow struct {
	Serial    string `json:"serial"`
	Published string `json:"published"`
	Closing   string `json:"closing"`
	Opening   string `json:"opening"`
	Title     string `json:"title"`
	Href      string `json:"href"`
}

// ExtractTenderRows walks the current department's tender list including
// pagination. Rows come back in portal order with ids deduplicated within
// the department's page set; each row carries the list-page closing text
// used by delta skip decisions.
func (s *NICSkill) ExtractTenderRows(ctx context.Context, session interfaces.BrowserSession) ([]models.TenderRow, error) {
	var rows []models.TenderRow
	seen := make(map[string]bool)

	for page := 1; page <= maxListPages; page++ {
		if ctx.Err() != nil {
			return rows, ctx.Err()
		}

		html, err := session.HTML(ctx)
		if err != nil {
			return rows, err
		}
		if isCaptchaPage(html) {
			return rows, models.NewScrapeError(models.ErrKindCaptcha, "tender list behind captcha", nil)
		}

		doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
		if err != nil {
			return rows, models.NewScrapeError(models.ErrKindParserMiss, "tender list page did not parse", err)
		}

		pageRows := s.extractPageRows(ctx, session, doc, page)

		added := 0
		for i := range pageRows {
			row := s.toTenderRow(&pageRows[i])
			if row.TenderID == "" {
				continue
			}
			key := common.NormalizeTenderID(row.TenderID)
			if key == "" || seen[key] {
				continue
			}
			seen[key] = true
			rows = append(rows, row)
			added++
		}

		next := s.findNextPage(doc)
		if next == "" || added == 0 {
			break
		}
		if current, err := session.CurrentURL(ctx); err == nil {
			next = resolveURL(current, next)
		}
		if err := session.Navigate(ctx, next, "table"); err != nil {
			// Pagination breaking mid-traversal leaves a valid partial set;
			// the verification sweep picks up the tail on a later run.
			s.logger.Warn().Err(err).Int("page", page).Msg("Pagination navigation failed, keeping rows so far")
			break
		}
	}

	return rows, nil
}

// extractPageRows chooses the extraction path for one list page. Pages
// larger than the JS batch threshold are sliced through in-page script
// evaluation; any batch failure falls back to per-row DOM extraction for
// this department only.
func (s *NICSkill) extractPageRows(ctx context.Context, session interfaces.BrowserSession, doc *goquery.Document, page int) []nicListRow {
	selector, rowCount := s.pickRowSelector(doc)
	if rowCount == 0 {
		return nil
	}

	if rowCount > s.config.JSBatchThreshold {
		batched, err := s.extractRowsBatched(ctx, session, selector, rowCount)
		if err == nil {
			return batched
		}
		s.logger.Warn().Err(err).
			Int("page", page).
			Int("rows", rowCount).
			Msg("Batched extraction failed, falling back to DOM walk")
	}

	return s.extractRowsFromDOM(doc, selector)
}

// pickRowSelector returns the first selector with data rows and its count
func (s *NICSkill) pickRowSelector(doc *goquery.Document) (string, int) {
	for _, selector := range tenderRowSelectors {
		count := 0
		doc.Find(selector).Each(func(i int, row *goquery.Selection) {
			if row.Find("td").Length() >= 5 {
				count++
			}
		})
		if count > 0 {
			return selector, count
		}
	}
	return "", 0
}

// extractRowsBatched slices the table through in-page script evaluation in
// chunks of js_batch_size. A single failed chunk fails the whole batch so
// the caller can fall back without holes in the sequence.
func (s *NICSkill) extractRowsBatched(ctx context.Context, session interfaces.BrowserSession, selector string, total int) ([]nicListRow, error) {
	batchSize := s.config.JSBatchSize
	rows := make([]nicListRow, 0, total)

	for start := 0; start < total; start += batchSize {
		end := start + batchSize
		if end > total {
			end = total
		}

		js := fmt.Sprintf(`(() => {
	const rows = Array.from(document.querySelectorAll(%q)).slice(%d, %d);
	return rows.map(tr => {
		const tds = Array.from(tr.querySelectorAll('td'));
		if (tds.length < 5) return null;
		const titleCell = tds[4];
		const a = titleCell.querySelector('a');
		return {
			serial: tds[0].innerText.trim(),
			published: tds[1].innerText.trim(),
			closing: tds[2].innerText.trim(),
			opening: tds[3].innerText.trim(),
			title: titleCell.innerText.trim(),
			href: a ? a.href : ''
		};
	}).filter(r => r !== null);
})()`, selector, start, end)

		var batch []nicListRow
		if err := session.Script(ctx, js, &batch); err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		rows = append(rows, batch...)

		s.logger.Debug().
			Int("start", start).
			Int("end", end).
			Int("extracted", len(batch)).
			Msg("Tender row batch extracted")
	}

	return rows, nil
}

// extractRowsFromDOM is the slow path: per-row goquery traversal
func (s *NICSkill) extractRowsFromDOM(doc *goquery.Document, selector string) []nicListRow {
	var rows []nicListRow
	doc.Find(selector).Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		if cells.Length() < 5 {
			return
		}
		titleCell := cells.Eq(4)
		href, _ := titleCell.Find("a").Attr("href")
		rows = append(rows, nicListRow{
			Serial:    cellText(cells.Eq(0).Text()),
			Published: cellText(cells.Eq(1).Text()),
			Closing:   cellText(cells.Eq(2).Text()),
			Opening:   cellText(cells.Eq(3).Text()),
			Title:     cellText(titleCell.Text()),
			Href:      href,
		})
	})
	return rows
}

// toTenderRow maps a list row onto the TenderRow shape. The canonical
// tender id is the bracketed token inside the title cell; the displayed id
// is only a fallback, and the serial number is never used as an id.
func (s *NICSkill) toTenderRow(raw *nicListRow) models.TenderRow {
	canonical := common.ExtractBracketedID(raw.Title)
	displayed := displayedTenderID(raw.Title)

	id := canonical
	if id == "" {
		id = displayed
	}

	return models.TenderRow{
		SerialNo:      raw.Serial,
		TenderID:      id,
		TenderIDRaw:   displayed,
		TitleCell:     raw.Title,
		ClosingAtText: raw.Closing,
		DetailURL:     raw.Href,
	}
}

// displayedTenderID pulls the portal's displayed id token from a title
// cell. NIC renders "title / reference / id" variants separated by slashes
// or newlines; the id token is the last segment that looks like one.
func displayedTenderID(titleCell string) string {
	segments := strings.FieldsFunc(titleCell, func(r rune) bool {
		return r == '\n' || r == '/'
	})
	for i := len(segments) - 1; i >= 0; i-- {
		segment := strings.TrimSpace(segments[i])
		if looksLikeTenderID(segment) {
			return segment
		}
	}
	return ""
}

// looksLikeTenderID accepts tokens of the YYYY_DEPT_NNNNNN_N family shape
func looksLikeTenderID(token string) bool {
	if len(token) < 6 || strings.ContainsAny(token, " ") {
		return false
	}
	return strings.Count(token, "_") >= 2
}

// findNextPage locates the pagination forward link on the current page
func (s *NICSkill) findNextPage(doc *goquery.Document) string {
	for _, selector := range nextPageSelectors {
		if href, ok := doc.Find(selector).First().Attr("href"); ok && href != "" && href != "#" {
			return href
		}
	}
	// Text-based fallback: portals without ids label the link "Next".
	var href string
	doc.Find("a").EachWithBreak(func(i int, a *goquery.Selection) bool {
		text := strings.ToLower(cellText(a.Text()))
		if text == "next" || text == "next »" || text == "»" {
			if h, ok := a.Attr("href"); ok && h != "" && h != "#" {
				href = h
				return false
			}
		}
		return true
	})
	return href
}

// detailLabelMap maps detail page row labels (lowercased) onto tender
// fields. The organisation chain keeps its British spelling end to end;
// readers of persisted data depend on it.
var detailLabelMap = map[string]string{
	"organisation chain":          "organisation_chain",
	"organization chain":          "organisation_chain", // some instances misspell the label; the field never does
	"tender id":                   "tender_id",
	"tender reference number":     "tender_ref",
	"title":                       "title",
	"work description":            "work_description",
	"tender value in ₹":           "tender_value",
	"tender value":                "tender_value",
	"emd amount in ₹":             "emd_amount",
	"emd amount":                  "emd_amount",
	"location":                    "location",
	"contract type":               "contract_type",
	"form of contract":            "contract_type",
	"inviting officer":            "inviting_officer",
	"name of inviting officer":    "inviting_officer",
	"published date":              "published_date",
	"e-published date":            "published_date",
	"bid submission closing date": "closing_date",
	"closing date":                "closing_date",
	"bid opening date":            "opening_date",
	"tender opening date":         "opening_date",
}

// ExtractTenderDetails fetches one tender's detail record. A (nil, nil)
// return is a soft miss: the row vanished between the list walk and the
// detail visit, which portals do mid-day without ceremony.
func (s *NICSkill) ExtractTenderDetails(ctx context.Context, session interfaces.BrowserSession, portal *models.Portal, row *models.TenderRow) (*models.Tender, error) {
	if row.DetailURL == "" {
		// No link to follow: persist the list row as-is rather than dropping
		// the observation.
		return s.tenderFromListRow(portal, row, nil, ""), nil
	}

	url := resolveURL(portal.BaseURL, row.DetailURL)
	if err := session.Navigate(ctx, url, "table"); err != nil {
		return nil, err
	}

	html, err := session.HTML(ctx)
	if err != nil {
		return nil, err
	}
	if isCaptchaPage(html) {
		return nil, models.NewScrapeError(models.ErrKindCaptcha, "tender detail behind captcha", nil)
	}

	lower := strings.ToLower(html)
	if strings.Contains(lower, "no records found") || strings.Contains(lower, "tender not found") {
		return nil, nil
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, models.NewScrapeError(models.ErrKindParserMiss, "tender detail page did not parse", err)
	}

	fields := s.parseDetailFields(doc)
	if len(fields) == 0 {
		// The page rendered but carries no detail table: soft miss.
		return nil, nil
	}

	markdown := s.detailMarkdown(url, doc)
	tender := s.tenderFromListRow(portal, row, fields, markdown)
	tender.DirectURL = url
	return tender, nil
}

// parseDetailFields walks the detail page's label/value tables into a flat
// map keyed by the normalized label.
func (s *NICSkill) parseDetailFields(doc *goquery.Document) map[string]string {
	fields := make(map[string]string)
	doc.Find("table tr").Each(func(i int, row *goquery.Selection) {
		cells := row.Find("td")
		// Label/value tables render pairs; wide rows interleave two pairs.
		for c := 0; c+1 < cells.Length(); c += 2 {
			label := strings.ToLower(cellText(cells.Eq(c).Text()))
			label = strings.TrimSuffix(label, ":")
			value := cellText(cells.Eq(c + 1).Text())
			if label == "" || value == "" {
				continue
			}
			if key, ok := detailLabelMap[label]; ok {
				if _, exists := fields[key]; !exists {
					fields[key] = value
				}
			}
		}
	})
	return fields
}

// detailMarkdown renders the detail page's main content as markdown for
// forensics, alongside the raw field map.
func (s *NICSkill) detailMarkdown(pageURL string, doc *goquery.Document) string {
	content, err := doc.Find("table").First().Parent().Html()
	if err != nil || content == "" {
		return ""
	}
	converter := md.NewConverter(pageURL, true, nil)
	markdown, err := converter.ConvertString(content)
	if err != nil {
		s.logger.Debug().Err(err).Msg("Detail markdown conversion failed")
		return ""
	}
	return markdown
}

// tenderFromListRow builds the persisted tender from a list row plus
// whatever the detail page yielded. A missing required field downgrades to
// best-effort: the raw field map is always kept for later re-extraction.
func (s *NICSkill) tenderFromListRow(portal *models.Portal, row *models.TenderRow, fields map[string]string, markdown string) *models.Tender {
	get := func(key string) string {
		if fields == nil {
			return ""
		}
		return fields[key]
	}

	// The bracketed title token wins over the detail page's own id row;
	// detail pages echo whatever the list linked, brackets included.
	extracted := row.TenderID
	if extracted == "" {
		extracted = get("tender_id")
	}

	title := get("title")
	if title == "" {
		title = row.TitleCell
	}
	closing := get("closing_date")
	if closing == "" {
		closing = row.ClosingAtText
	}

	tender := &models.Tender{
		Key:               common.TenderKey(portal.Name, extracted),
		PortalName:        portal.Name,
		PortalNameNorm:    common.NormalizePortalName(portal.Name),
		TenderIDRaw:       row.TenderIDRaw,
		TenderIDExtracted: extracted,
		SerialNo:          row.SerialNo,
		TitleRef:          title,
		OrganisationChain: get("organisation_chain"),
		PublishedAtText:   get("published_date"),
		ClosingAtText:     closing,
		OpeningAtText:     get("opening_date"),
		EMDAmountText:     get("emd_amount"),
		TenderValueText:   get("tender_value"),
		Location:          get("location"),
		ContractType:      get("contract_type"),
		InvitingOfficer:   get("inviting_officer"),
		WorkDescription:   get("work_description"),
		DirectURL:         row.DetailURL,
		LifecycleStatus:   models.TenderActive,
		DetailMarkdown:    markdown,
	}

	if t, ok := common.ParseClosingTime(closing); ok {
		tender.ClosingAtIST = &t
	}
	tender.EMDAmountNumeric = parseAmount(tender.EMDAmountText)
	tender.TenderValueNumeric = parseAmount(tender.TenderValueText)

	// Raw forensics blob: the full field map plus the list row.
	raw := map[string]interface{}{
		"list_row": row,
		"fields":   fields,
	}
	if data, err := json.Marshal(raw); err == nil {
		tender.RawJSON = data
	}

	return tender
}
