// Package htmllist harvests list-and-detail HTML sources: a listing
// page yields item links, each detail page yields one record.
package htmllist

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/pharosdata/harvester/internal/harvest"
)

// UnitName is the registry name of this unit.
const UnitName = "htmllist"

// Meta keys consumed from the unit config.
const (
	metaSourceID        = "source_id"
	metaSourceName      = "source_name"
	metaDefaultCategory = "default_category"
	metaContentChannel  = "content_channel"
	metaItemSelector    = "item_selector"
	metaTitleSelector   = "title_selector"
	metaContentSelector = "content_selector"
	metaDateSelector    = "date_selector"
	metaDateLayout      = "date_layout"
	metaUserAgent       = "user_agent"
)

// Unit implements the list-and-detail harvest lifecycle.
type Unit struct {
	cfg       harvest.FetchUnitConfig
	source    harvest.SourceInfo
	requester *harvest.Requester
	logger    *zap.Logger

	itemSelector    string
	titleSelector   string
	contentSelector string
	dateSelector    string
	dateLayout      string
	userAgent       string
}

// New constructs an htmllist unit from its merged config.
func New(cfg harvest.FetchUnitConfig, logger *zap.Logger) (harvest.FetchUnit, error) {
	requester, err := harvest.NewRequester(UnitName, cfg, logger)
	if err != nil {
		return nil, err
	}
	return &Unit{
		cfg:             cfg,
		requester:       requester,
		logger:          logger,
		itemSelector:    cfg.MetaString(metaItemSelector, ""),
		titleSelector:   cfg.MetaString(metaTitleSelector, "h1"),
		contentSelector: cfg.MetaString(metaContentSelector, "article"),
		dateSelector:    cfg.MetaString(metaDateSelector, ""),
		dateLayout:      cfg.MetaString(metaDateLayout, "2006-01-02"),
		userAgent:       cfg.MetaString(metaUserAgent, ""),
	}, nil
}

// Name returns the registry name.
func (u *Unit) Name() string { return UnitName }

// Source returns the harvested source identity.
func (u *Unit) Source() harvest.SourceInfo { return u.source }

// Prepare validates config and resolves the source identity. The unit
// refuses to run without entry points and an item selector.
func (u *Unit) Prepare(_ context.Context) error {
	if len(u.cfg.EntryPoints) == 0 {
		return fmt.Errorf("htmllist: at least one entry point is required")
	}
	if u.itemSelector == "" {
		return fmt.Errorf("htmllist: meta key %q is required", metaItemSelector)
	}
	sourceID := u.cfg.MetaString(metaSourceID, "")
	if sourceID == "" {
		return fmt.Errorf("htmllist: meta key %q is required", metaSourceID)
	}

	category := harvest.CategoryIndustry
	if declared := u.cfg.MetaString(metaDefaultCategory, ""); declared != "" {
		parsed, err := harvest.ParseCategory(declared)
		if err != nil {
			return err
		}
		category = parsed
	}

	u.source = harvest.SourceInfo{
		ID:              sourceID,
		Name:            u.cfg.MetaString(metaSourceName, sourceID),
		DefaultCategory: category,
		ContentChannel:  u.cfg.MetaString(metaContentChannel, "web_page"),
	}
	return nil
}

// Fetch collects item links from every entry point, then fetches each
// detail page. Link discovery uses a colly collector; detail pages go
// through the shared throttled requester.
func (u *Unit) Fetch(ctx context.Context) ([]harvest.ExtractedItem, error) {
	links, err := u.collectLinks(ctx)
	if err != nil {
		return nil, err
	}
	if u.cfg.MaxItems > 0 && len(links) > u.cfg.MaxItems {
		links = links[:u.cfg.MaxItems]
	}
	u.logger.Info("list pages scanned",
		zap.Int("entry_points", len(u.cfg.EntryPoints)),
		zap.Int("links", len(links)),
	)

	items := make([]harvest.ExtractedItem, 0, len(links))
	for i, link := range links {
		if ctx.Err() != nil {
			return items, fmt.Errorf("htmllist: canceled: %w", ctx.Err())
		}
		if i > 0 {
			u.requester.Throttle(ctx)
		}
		item, err := u.fetchDetail(ctx, link)
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
	return items, nil
}

// PostProcess drops items with no extractable content.
func (u *Unit) PostProcess(_ context.Context, items []harvest.ExtractedItem) ([]harvest.ExtractedItem, error) {
	kept := items[:0]
	for _, item := range items {
		if strings.TrimSpace(item.ContentMarkup) == "" {
			u.logger.Warn("dropping empty item", zap.String("url", item.SourceURL))
			continue
		}
		kept = append(kept, item)
	}
	return kept, nil
}

func (u *Unit) collectLinks(ctx context.Context) ([]string, error) {
	collector := colly.NewCollector(colly.Async(false))
	if u.userAgent != "" {
		collector.UserAgent = u.userAgent
	}
	collector.IgnoreRobotsTxt = true
	if u.cfg.Timeout > 0 {
		collector.SetRequestTimeout(u.cfg.Timeout)
	}

	var (
		links []string
		seen  = make(map[string]struct{})
	)
	collector.OnRequest(func(r *colly.Request) {
		for k, v := range u.cfg.Headers {
			r.Headers.Set(k, v)
		}
	})
	collector.OnHTML(u.itemSelector, func(e *colly.HTMLElement) {
		href := e.Attr("href")
		if href == "" {
			return
		}
		absolute := e.Request.AbsoluteURL(href)
		if _, dup := seen[absolute]; dup {
			return
		}
		seen[absolute] = struct{}{}
		links = append(links, absolute)
	})

	var visitErr error
	collector.OnError(func(resp *colly.Response, err error) {
		visitErr = err
	})

	for i, entry := range u.cfg.EntryPoints {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("htmllist: canceled: %w", ctx.Err())
		}
		if i > 0 {
			u.requester.Throttle(ctx)
		}
		if err := collector.Visit(entry); err != nil {
			return nil, fmt.Errorf("htmllist: visit list page %s: %w", entry, err)
		}
		if visitErr != nil {
			return nil, fmt.Errorf("htmllist: list page %s: %w", entry, visitErr)
		}
	}
	collector.Wait()
	return links, nil
}

func (u *Unit) fetchDetail(ctx context.Context, link string) (harvest.ExtractedItem, error) {
	body, err := u.requester.Get(ctx, link)
	if err != nil {
		return harvest.ExtractedItem{}, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(string(body)))
	if err != nil {
		return harvest.ExtractedItem{}, fmt.Errorf("htmllist: parse detail page %s: %w", link, err)
	}

	title := strings.TrimSpace(doc.Find(u.titleSelector).First().Text())
	content, err := doc.Find(u.contentSelector).First().Html()
	if err != nil {
		return harvest.ExtractedItem{}, fmt.Errorf("htmllist: extract content from %s: %w", link, err)
	}

	item := harvest.ExtractedItem{
		Title:         title,
		ContentMarkup: content,
		SourceURL:     link,
	}
	if u.dateSelector != "" {
		raw := strings.TrimSpace(doc.Find(u.dateSelector).First().Text())
		if published, err := time.Parse(u.dateLayout, raw); err == nil {
			item.PublishTime = &published
		} else if raw != "" {
			u.logger.Debug("unparseable publish date",
				zap.String("url", link),
				zap.String("raw", raw),
			)
		}
	}
	return item, nil
}
