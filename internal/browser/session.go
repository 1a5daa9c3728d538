package browser

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	cdpbrowser "github.com/chromedp/cdproto/browser"
	"github.com/chromedp/chromedp"
	"github.com/ternarybob/arbor"
)

// Selectors for the target site's interaction surface. Concrete values
// are a collaborator concern; these are the placeholders the session
// bring-up sequence drives.
const (
	selUsernameField  = `#username`
	selPasswordField  = `#password`
	selLoginSubmit    = `button[type="submit"]`
	selLicenseAccept  = `#acceptLicenseButton`
	selInventoryTable = `table.inventory-grid`
	selClearFilter    = `#clearFilterButton`
	selExportButton   = `#exportCsvButton`
	selReferenceInput = `input[name="referenceFilter"]`
	selRowLink        = `table.inventory-grid tbody tr a`
	selPrintEmail     = `#printEmailReportsButton`
	selCreatePdf      = `#createPdfButton`

	loginURLFragment     = "/login"
	inventoryURLFragment = "/inventory"
	pdfPopupURLFragment  = "GetPdfReport"
)

// Credentials for the target site.
type Credentials struct {
	Username string
	Password string
}

// LoginURL and InventoryURL are the two navigation targets the bring-up
// sequence and session-loss recovery depend on.
type Endpoints struct {
	LoginURL     string
	InventoryURL string
}

// Login drives the login form, accepts the license interstitial if
// present, and lands on the inventory view with filters cleared. It is
// only ever run on page index 0: once at bring-up, and again through
// RefreshSession after a mid-run session loss. The site enforces a
// single active session and rejects concurrent logins from a second
// browser context.
func Login(ctx context.Context, pageCtx context.Context, creds Credentials, endpoints Endpoints, logger arbor.ILogger) error {
	logger.Info().Str("url", endpoints.LoginURL).Msg("navigating to login")
	if err := chromedp.Run(pageCtx,
		chromedp.Navigate(endpoints.LoginURL),
		chromedp.WaitVisible(selUsernameField, chromedp.ByQuery),
		chromedp.SendKeys(selUsernameField, creds.Username, chromedp.ByQuery),
		chromedp.SendKeys(selPasswordField, creds.Password, chromedp.ByQuery),
		chromedp.Click(selLoginSubmit, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("submit login form: %w", err)
	}

	if err := acceptLicenseIfPresent(pageCtx, logger); err != nil {
		return fmt.Errorf("license interstitial: %w", err)
	}

	if err := chromedp.Run(pageCtx,
		chromedp.Navigate(endpoints.InventoryURL),
		chromedp.WaitVisible(selInventoryTable, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigate to inventory: %w", err)
	}

	return ClearFilter(pageCtx)
}

// acceptLicenseIfPresent inspects the rendered page for the license
// acceptance control and clicks it if found. Absence is not an error:
// the interstitial only appears on some sessions.
func acceptLicenseIfPresent(pageCtx context.Context, logger arbor.ILogger) error {
	present, err := elementPresent(pageCtx, selLicenseAccept)
	if err != nil {
		return err
	}
	if !present {
		return nil
	}
	logger.Debug().Msg("license interstitial present, accepting")
	return chromedp.Run(pageCtx, chromedp.Click(selLicenseAccept, chromedp.ByQuery))
}

// elementPresent parses the current page's HTML with goquery to check
// for selector, without requiring the element to be visible or
// clickable — used for the interstitial, which is cosmetic chrome
// rather than part of the worker's critical path.
func elementPresent(pageCtx context.Context, selector string) (bool, error) {
	var html string
	if err := chromedp.Run(pageCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return false, fmt.Errorf("read page html: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false, fmt.Errorf("parse page html: %w", err)
	}
	return doc.Find(selector).Length() > 0, nil
}

// ClearFilter returns the inventory grid to its unfiltered state.
func ClearFilter(pageCtx context.Context) error {
	present, err := elementPresent(pageCtx, selClearFilter)
	if err != nil {
		return err
	}
	if !present {
		return nil
	}
	return chromedp.Run(pageCtx, chromedp.Click(selClearFilter, chromedp.ByQuery))
}

// ConfigureDownloads points the browser's download behavior at dir so a
// subsequent ExportInventoryCSV lands a file the orchestrator can poll
// for by name, rather than needing to intercept the response in flight.
func ConfigureDownloads(pageCtx context.Context, dir string) error {
	return chromedp.Run(pageCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return cdpbrowser.SetDownloadBehavior(cdpbrowser.SetDownloadBehaviorBehaviorAllow).
			WithDownloadPath(dir).
			WithEventsEnabled(true).
			Do(ctx)
	}))
}

// ExportInventoryCSV drives the export action, which the site serves as
// a browser download rather than a navigable URL. The caller must have
// called ConfigureDownloads first and is responsible for waiting for
// the resulting file to land.
func ExportInventoryCSV(pageCtx context.Context) error {
	return chromedp.Run(pageCtx,
		chromedp.WaitVisible(selExportButton, chromedp.ByQuery),
		chromedp.Click(selExportButton, chromedp.ByQuery),
	)
}

// NavigateToInventory is used both for additional worker pages during
// bring-up (§4.2 step 5) and to recover a worker page after it strays
// from the grid.
func NavigateToInventory(pageCtx context.Context, inventoryURL string) error {
	if err := chromedp.Run(pageCtx,
		chromedp.Navigate(inventoryURL),
		chromedp.WaitVisible(selInventoryTable, chromedp.ByQuery),
	); err != nil {
		return fmt.Errorf("navigate to inventory: %w", err)
	}
	return ClearFilter(pageCtx)
}

// FilterToReference filters the inventory grid to the single row for
// reference and opens its detail view.
func FilterToReference(pageCtx context.Context, reference string) error {
	if err := chromedp.Run(pageCtx,
		chromedp.WaitVisible(selReferenceInput, chromedp.ByQuery),
		chromedp.SendKeys(selReferenceInput, reference, chromedp.ByQuery),
		chromedp.Sleep(300*time.Millisecond), // grid re-renders client-side after keystroke
	); err != nil {
		return fmt.Errorf("filter to reference %s: %w", reference, err)
	}
	return chromedp.Run(pageCtx,
		chromedp.WaitVisible(selRowLink, chromedp.ByQuery),
		chromedp.Click(selRowLink, chromedp.ByQuery),
	)
}

// RefreshSession re-authenticates on P0 after a mid-run session loss
// (§7, "Session lost / logged out mid-run"). It is serialized under
// the PDF mutex so it cannot race the other interaction that mutates
// shared context state, opening the popup tab.
func RefreshSession(ctx context.Context, pageZeroCtx context.Context, creds Credentials, endpoints Endpoints, logger arbor.ILogger) error {
	pdfLock.Lock()
	defer pdfLock.Unlock()
	logger.Warn().Msg("session lost mid-run, re-authenticating on P0")
	return Login(ctx, pageZeroCtx, creds, endpoints, logger)
}

// SessionLost reports whether the current page has landed back on the
// login URL, the signal that the shared session was invalidated
// mid-run (§7, "Session lost / logged out mid-run").
func SessionLost(pageCtx context.Context) (bool, error) {
	var currentURL string
	if err := chromedp.Run(pageCtx, chromedp.Location(&currentURL)); err != nil {
		return false, fmt.Errorf("read current location: %w", err)
	}
	return strings.Contains(currentURL, loginURLFragment), nil
}

// IsInventoryURL reports whether url points at the inventory view,
// used by callers distinguishing where navigation actually landed.
func IsInventoryURL(url string) bool {
	return strings.Contains(url, inventoryURLFragment)
}
