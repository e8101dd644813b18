// Package headless harvests JavaScript-rendered pages with chromedp.
// Each entry point yields one record built from the rendered DOM.
package headless

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/pharosdata/harvester/internal/harvest"
)

// UnitName is the registry name of this unit.
const UnitName = "headless"

const (
	metaSourceID        = "source_id"
	metaSourceName      = "source_name"
	metaDefaultCategory = "default_category"
	metaContentChannel  = "content_channel"
	metaWaitSelector    = "wait_selector"
	metaContentSelector = "content_selector"
	metaTitleSelector   = "title_selector"
)

const defaultNavTimeout = 45 * time.Second

// Unit renders each entry point in a headless browser.
type Unit struct {
	cfg    harvest.FetchUnitConfig
	source harvest.SourceInfo
	logger *zap.Logger

	waitSelector    string
	contentSelector string
	titleSelector   string
}

// New constructs a headless unit from its merged config.
func New(cfg harvest.FetchUnitConfig, logger *zap.Logger) (harvest.FetchUnit, error) {
	return &Unit{
		cfg:             cfg,
		logger:          logger,
		waitSelector:    cfg.MetaString(metaWaitSelector, "body"),
		contentSelector: cfg.MetaString(metaContentSelector, ""),
		titleSelector:   cfg.MetaString(metaTitleSelector, ""),
	}, nil
}

// Name returns the registry name.
func (u *Unit) Name() string { return UnitName }

// Source returns the harvested source identity.
func (u *Unit) Source() harvest.SourceInfo { return u.source }

// Prepare validates config and resolves the source identity.
func (u *Unit) Prepare(_ context.Context) error {
	if len(u.cfg.EntryPoints) == 0 {
		return fmt.Errorf("headless: at least one entry point is required")
	}
	sourceID := u.cfg.MetaString(metaSourceID, "")
	if sourceID == "" {
		return fmt.Errorf("headless: meta key %q is required", metaSourceID)
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

// Fetch renders every entry point and extracts one item per page.
func (u *Unit) Fetch(ctx context.Context) ([]harvest.ExtractedItem, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	entries := u.cfg.EntryPoints
	if u.cfg.MaxItems > 0 && len(entries) > u.cfg.MaxItems {
		entries = entries[:u.cfg.MaxItems]
	}

	items := make([]harvest.ExtractedItem, 0, len(entries))
	for _, entry := range entries {
		if ctx.Err() != nil {
			return items, fmt.Errorf("headless: canceled: %w", ctx.Err())
		}
		item, err := u.renderPage(allocCtx, entry)
		if err != nil {
			return items, err
		}
		items = append(items, item)
	}
	return items, nil
}

// PostProcess narrows rendered documents to the configured content
// selector when one is set.
func (u *Unit) PostProcess(_ context.Context, items []harvest.ExtractedItem) ([]harvest.ExtractedItem, error) {
	if u.contentSelector == "" && u.titleSelector == "" {
		return items, nil
	}
	out := make([]harvest.ExtractedItem, 0, len(items))
	for _, item := range items {
		doc, err := goquery.NewDocumentFromReader(strings.NewReader(item.ContentMarkup))
		if err != nil {
			return nil, fmt.Errorf("headless: parse rendered page %s: %w", item.SourceURL, err)
		}
		if u.titleSelector != "" {
			if title := strings.TrimSpace(doc.Find(u.titleSelector).First().Text()); title != "" {
				item.Title = title
			}
		}
		if u.contentSelector != "" {
			content, err := doc.Find(u.contentSelector).First().Html()
			if err != nil {
				return nil, fmt.Errorf("headless: extract content from %s: %w", item.SourceURL, err)
			}
			if strings.TrimSpace(content) != "" {
				item.ContentMarkup = content
			}
		}
		out = append(out, item)
	}
	return out, nil
}

func (u *Unit) renderPage(allocCtx context.Context, entry string) (harvest.ExtractedItem, error) {
	taskCtx, taskCancel := chromedp.NewContext(allocCtx)
	defer taskCancel()

	timeout := u.cfg.Timeout
	if timeout <= 0 {
		timeout = defaultNavTimeout
	}
	taskCtx, cancel := context.WithTimeout(taskCtx, timeout)
	defer cancel()

	var (
		html  string
		title string
	)
	start := time.Now()
	err := chromedp.Run(taskCtx,
		chromedp.Navigate(entry),
		chromedp.WaitReady(u.waitSelector, chromedp.ByQuery),
		chromedp.Sleep(500*time.Millisecond),
		chromedp.Title(&title),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return harvest.ExtractedItem{}, fmt.Errorf("headless: render %s: %w", entry, err)
	}
	u.logger.Debug("page rendered",
		zap.String("url", entry),
		zap.Duration("elapsed", time.Since(start)),
	)

	return harvest.ExtractedItem{
		Title:         strings.TrimSpace(title),
		ContentMarkup: html,
		SourceURL:     entry,
	}, nil
}
