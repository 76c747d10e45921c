package insights_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"

	"insight-backend/internal/bootstrap"
	"insight-backend/internal/shared/config"
)

func newTestApp(t *testing.T) *bootstrap.App {
	t.Helper()
	gin.SetMode(gin.TestMode)

	app, err := bootstrap.Build(config.Config{
		Env:             "test",
		KVStoreType:     "memory",
		ObjectStoreType: "local",
		LocalStoreDir:   t.TempDir(),
		CORSAllowOrigin: []string{"http://localhost:5173"},
	})
	if err != nil {
		t.Fatalf("bootstrap build: %v", err)
	}
	t.Cleanup(app.Close)
	return app
}

func postJSON(t *testing.T, app *bootstrap.App, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	app.Router.ServeHTTP(resp, req)
	return resp
}

func TestInsightsCreateAndList(t *testing.T) {
	app := newTestApp(t)

	resp := postJSON(t, app, "/v1/projects/p1/insights", `{
		"category": "market",
		"title": "Untapped segment",
		"summary": "Mid-market buyers are underserved.",
		"confidence": 90,
		"source": "document"
	}`)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var created struct {
		InsightID   string `json:"insightId"`
		NeedsReview bool   `json:"needsReview"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}
	if created.InsightID == "" {
		t.Fatalf("expected insightId, got empty")
	}
	if created.NeedsReview {
		t.Fatalf("confidence 90 should not need review")
	}

	// Unknown category is rejected at the decode boundary.
	respBad := postJSON(t, app, "/v1/projects/p1/insights", `{
		"category": "vibes",
		"title": "x",
		"summary": "y"
	}`)
	if respBad.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", respBad.Code)
	}

	reqList := httptest.NewRequest(http.MethodGet, "/v1/projects/p1/insights", nil)
	respList := httptest.NewRecorder()
	app.Router.ServeHTTP(respList, reqList)
	if respList.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", respList.Code)
	}
	var listing struct {
		Insights []struct {
			InsightID string `json:"insightId"`
			Title     string `json:"title"`
		} `json:"insights"`
	}
	if err := json.NewDecoder(respList.Body).Decode(&listing); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(listing.Insights) != 1 || listing.Insights[0].Title != "Untapped segment" {
		t.Fatalf("unexpected listing: %+v", listing.Insights)
	}
}

func TestInsightsUpdateAndAssociate(t *testing.T) {
	app := newTestApp(t)

	resp := postJSON(t, app, "/v1/projects/p1/insights", `{
		"category": "risk",
		"title": "Churn exposure",
		"summary": "Contract renewals cluster in Q4.",
		"confidence": 70,
		"source": "document"
	}`)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", resp.Code)
	}
	var created struct {
		InsightID string `json:"insightId"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode create response: %v", err)
	}

	patch := httptest.NewRequest(http.MethodPatch, "/v1/projects/p1/insights/"+created.InsightID,
		strings.NewReader(`{"title":"Churn exposure in Q4","confidence":95}`))
	patch.Header.Set("Content-Type", "application/json")
	respPatch := httptest.NewRecorder()
	app.Router.ServeHTTP(respPatch, patch)
	if respPatch.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", respPatch.Code, respPatch.Body.String())
	}
	var updated struct {
		Title      string  `json:"title"`
		Confidence int     `json:"confidence"`
		UpdatedAt  *string `json:"updatedAt"`
	}
	if err := json.NewDecoder(respPatch.Body).Decode(&updated); err != nil {
		t.Fatalf("decode update response: %v", err)
	}
	if updated.Title != "Churn exposure in Q4" || updated.Confidence != 95 {
		t.Fatalf("unexpected update: %+v", updated)
	}
	if updated.UpdatedAt == nil {
		t.Fatalf("expected updatedAt to be stamped")
	}

	assoc := httptest.NewRequest(http.MethodPut, "/v1/projects/p1/insights/"+created.InsightID+"/documents",
		strings.NewReader(`{"documentIds":["doc-1","doc-2"]}`))
	assoc.Header.Set("Content-Type", "application/json")
	respAssoc := httptest.NewRecorder()
	app.Router.ServeHTTP(respAssoc, assoc)
	if respAssoc.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", respAssoc.Code)
	}

	respMissing := httptest.NewRecorder()
	missing := httptest.NewRequest(http.MethodPut, "/v1/projects/p1/insights/nope/documents",
		strings.NewReader(`{"documentIds":["doc-1"]}`))
	missing.Header.Set("Content-Type", "application/json")
	app.Router.ServeHTTP(respMissing, missing)
	if respMissing.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", respMissing.Code)
	}
}

func TestInsightsCleanupRemovesOrphans(t *testing.T) {
	app := newTestApp(t)

	// References a document that does not exist, so cleanup removes it.
	resp := postJSON(t, app, "/v1/projects/p1/insights", `{
		"category": "operational",
		"title": "Orphaned",
		"summary": "Backed by a deleted document.",
		"source": "document",
		"sourceDocumentIds": ["ghost-doc"]
	}`)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", resp.Code)
	}

	// No source documents at all, so it is never considered orphaned.
	resp = postJSON(t, app, "/v1/projects/p1/insights", `{
		"category": "market",
		"title": "Manual note",
		"summary": "Entered by hand.",
		"source": "document"
	}`)
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", resp.Code)
	}

	respCleanup := postJSON(t, app, "/v1/projects/p1/insights/cleanup", `{}`)
	if respCleanup.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", respCleanup.Code, respCleanup.Body.String())
	}
	var cleanup struct {
		Removed int `json:"removed"`
	}
	if err := json.NewDecoder(respCleanup.Body).Decode(&cleanup); err != nil {
		t.Fatalf("decode cleanup response: %v", err)
	}
	if cleanup.Removed != 1 {
		t.Fatalf("expected 1 removed, got %d", cleanup.Removed)
	}

	reqList := httptest.NewRequest(http.MethodGet, "/v1/projects/p1/insights", nil)
	respList := httptest.NewRecorder()
	app.Router.ServeHTTP(respList, reqList)
	var listing struct {
		Insights []struct {
			Title string `json:"title"`
		} `json:"insights"`
	}
	if err := json.NewDecoder(respList.Body).Decode(&listing); err != nil {
		t.Fatalf("decode list response: %v", err)
	}
	if len(listing.Insights) != 1 || listing.Insights[0].Title != "Manual note" {
		t.Fatalf("expected only the manual insight to survive, got %+v", listing.Insights)
	}
}
