package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"golang.org/x/crypto/bcrypt"

	"github.com/tphakala/padmatch/internal/backup"
	"github.com/tphakala/padmatch/internal/backup/sources"
	"github.com/tphakala/padmatch/internal/backup/targets"
	"github.com/tphakala/padmatch/internal/conf"
	"github.com/tphakala/padmatch/internal/ledger"
	"github.com/tphakala/padmatch/internal/observability"
	"github.com/tphakala/padmatch/internal/records"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testSettings(t *testing.T) *conf.Settings {
	t.Helper()
	settings := &conf.Settings{}
	settings.Output.SQLite.Enabled = true
	settings.Output.SQLite.Path = filepath.Join(t.TempDir(), "ledger.db")
	settings.Export.Path = t.TempDir()
	settings.Export.PublicBaseURL = "https://pad.crc.nd.edu"
	settings.Backup.Enabled = true
	settings.Backup.Path = t.TempDir()
	settings.Backup.OperationTimeout = 30
	settings.Backup.Retention = map[string]int{
		"manual": 5, "auto": 1, "export": 3, "import": 3,
	}
	settings.WebServer.Enabled = true
	settings.WebServer.Port = "8080"
	settings.WebServer.CacheTTL = 0
	settings.Matching.CameraAliases = map[string]string{
		"nokia": "HMD Global Nokia 2.3",
		"ipad":  "iPad",
		"pixel": "Google Pixel 3a",
	}
	return settings
}

func testRecords(t *testing.T) *records.Store {
	t.Helper()
	annotations := []records.AnnotationRow{
		{AnnotID: 7, SampleID: 100, Camera: "nokia", APIName: "amoxicillin", Sample: "tablet"},
		{AnnotID: 8, SampleID: 100, Camera: "ipad", APIName: "amoxicillin"},
		{AnnotID: 9, SampleID: 200, Camera: "pixel", APIName: "quinine", MissingCard: true},
	}
	cards := []records.ProjectCardRow{
		{CardID: 10, SampleID: 100, SampleName: "Amoxicillin 50%",
			CameraType: "HMD Global Nokia 2.3",
			FileLocation: "/var/www/html/images/padimages/processed/10_processed.png"},
		{CardID: 11, SampleID: 100, SampleName: "Amoxicillin 50%", CameraType: "iPad"},
		{CardID: 50, SampleID: 300, SampleName: "Quinine 80%", CameraType: "iPad"},
	}
	store, err := records.NewStore(annotations, cards, nil)
	require.NoError(t, err)
	return store
}

func newTestController(t *testing.T, settings *conf.Settings) *Controller {
	t.Helper()

	store := testRecords(t)
	resolver := records.NewResolver(store, settings.Matching.CameraAliases)

	ledgerStore, err := ledger.New(settings)
	require.NoError(t, err)
	require.NoError(t, ledgerStore.Open())
	t.Cleanup(func() { _ = ledgerStore.Close() })

	manager := backup.NewManager(settings)
	require.NoError(t, manager.RegisterSource(sources.NewSQLiteSource(settings, ledgerStore.DB())))
	require.NoError(t, manager.RegisterTarget(targets.NewLocalTarget(settings.Backup.Path)))

	metrics, err := observability.NewMetrics()
	require.NoError(t, err)

	controller, err := New(echo.New(), settings, store, resolver, ledgerStore, manager, metrics)
	require.NoError(t, err)
	return controller
}

func doJSON(c *Controller, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	c.Echo.ServeHTTP(rec, req)
	return rec
}

func TestHealthCheck(t *testing.T) {
	c := newTestController(t, testSettings(t))

	rec := doJSON(c, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestSaveMatchStoresDecision(t *testing.T) {
	c := newTestController(t, testSettings(t))

	rec := doJSON(c, http.MethodPost, "/api/v1/matches", `{"annot_id":7,"card_id":10}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var response MatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.Equal(t, int64(7), response.AnnotID)
	assert.Equal(t, "10", response.CardID)
	assert.False(t, response.GroupComplete, "annotation 8 is still undecided")

	match, found, err := c.Ledger.GetMatch(7)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "10", match.CardID)
	assert.Equal(t, "amoxicillin", match.APIName)
}

func TestSaveMatchConflictReturns409(t *testing.T) {
	c := newTestController(t, testSettings(t))

	rec := doJSON(c, http.MethodPost, "/api/v1/matches", `{"annot_id":7,"card_id":10}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(c, http.MethodPost, "/api/v1/matches", `{"annot_id":8,"card_id":10}`)
	require.Equal(t, http.StatusConflict, rec.Code)

	var response ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.NotEmpty(t, response.CorrelationID)

	// The loser's annotation stays undecided.
	_, found, err := c.Ledger.GetMatch(8)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSaveMatchNoMatchAndClear(t *testing.T) {
	c := newTestController(t, testSettings(t))

	rec := doJSON(c, http.MethodPost, "/api/v1/matches", `{"annot_id":7,"card_id":"no_match"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	match, found, err := c.Ledger.GetMatch(7)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, ledger.NoMatchSentinel, match.CardID)

	rec = doJSON(c, http.MethodPost, "/api/v1/matches", `{"annot_id":7,"card_id":null}`)
	require.Equal(t, http.StatusOK, rec.Code)

	_, found, err = c.Ledger.GetMatch(7)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestSaveMatchValidation(t *testing.T) {
	c := newTestController(t, testSettings(t))

	tests := []struct {
		name string
		body string
		code int
	}{
		{"unknown annotation", `{"annot_id":999,"card_id":10}`, http.StatusNotFound},
		{"missing_card annotation", `{"annot_id":9,"card_id":50}`, http.StatusUnprocessableEntity},
		{"unknown card", `{"annot_id":7,"card_id":999}`, http.StatusUnprocessableEntity},
		{"card from another PAD", `{"annot_id":7,"card_id":50}`, http.StatusUnprocessableEntity},
		{"unsupported string", `{"annot_id":7,"card_id":"maybe"}`, http.StatusUnprocessableEntity},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := doJSON(c, http.MethodPost, "/api/v1/matches", tc.body)
			assert.Equal(t, tc.code, rec.Code, rec.Body.String())
		})
	}
}

func TestGroupCompletionTriggersAutoSnapshot(t *testing.T) {
	c := newTestController(t, testSettings(t))

	rec := doJSON(c, http.MethodPost, "/api/v1/matches", `{"annot_id":7,"card_id":10}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(c, http.MethodPost, "/api/v1/matches", `{"annot_id":8,"card_id":"no_match"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	var response MatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &response))
	assert.True(t, response.GroupComplete)

	rec = doJSON(c, http.MethodGet, "/api/v1/backups", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var info backup.ListInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	require.NotEmpty(t, info.Backups, "completing the group takes an automatic snapshot")
	assert.Equal(t, backup.CategoryAuto, info.Backups[0].Category)
	assert.Positive(t, info.TotalSize)
	assert.Equal(t, info.Backups[0].Timestamp, info.MostRecent)
}

func TestSaveNoteRoundTrip(t *testing.T) {
	c := newTestController(t, testSettings(t))

	rec := doJSON(c, http.MethodPost, "/api/v1/notes", `{"annot_id":7,"note":"blurry photo"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	note, found, err := c.Ledger.GetNote(7)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "blurry photo", note.NoteText)

	rec = doJSON(c, http.MethodPost, "/api/v1/notes", `{"annot_id":999,"note":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetPADGroupPayload(t *testing.T) {
	c := newTestController(t, testSettings(t))

	rec := doJSON(c, http.MethodPost, "/api/v1/matches", `{"annot_id":7,"card_id":10}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doJSON(c, http.MethodPost, "/api/v1/notes", `{"annot_id":7,"note":"ok"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(c, http.MethodGet, "/api/v1/pads/amoxicillin/100", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var payload PADGroupResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &payload))
	assert.Equal(t, "amoxicillin", payload.APIName)
	assert.False(t, payload.Complete)
	require.Len(t, payload.Annotations, 2)

	first := payload.Annotations[0]
	assert.Equal(t, int64(7), first.AnnotID)
	require.NotNil(t, first.MatchedCardID)
	assert.Equal(t, "10", *first.MatchedCardID)
	assert.Equal(t, "ok", first.Note)

	// Camera match ranks card 10 first for the nokia annotation.
	require.Len(t, first.Candidates, 2)
	assert.Equal(t, int64(10), first.Candidates[0].CardID)
	assert.Equal(t, 1, first.Candidates[0].Score)

	// Annotation 8 sees card 10 as used by annotation 7.
	second := payload.Annotations[1]
	assert.Nil(t, second.MatchedCardID)
	for _, candidate := range second.Candidates {
		if candidate.CardID == 10 {
			require.NotNil(t, candidate.UsedBy)
			assert.Equal(t, int64(7), *candidate.UsedBy)
		}
	}

	rec = doJSON(c, http.MethodGet, "/api/v1/pads/amoxicillin/999", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetStatsReflectsWrites(t *testing.T) {
	c := newTestController(t, testSettings(t))

	rec := doJSON(c, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var before StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &before))
	assert.Equal(t, 3, before.TotalAnnotations)
	assert.Equal(t, 2, before.Matchable)
	assert.Equal(t, 1, before.MissingCard)
	assert.Equal(t, int64(0), before.Decided)
	assert.Equal(t, 1, before.TotalPADs)
	assert.Equal(t, 0, before.CompletedPADs)

	rec = doJSON(c, http.MethodPost, "/api/v1/matches", `{"annot_id":7,"card_id":10}`)
	require.Equal(t, http.StatusOK, rec.Code)

	// The cached response is dropped on write.
	rec = doJSON(c, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var after StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &after))
	assert.Equal(t, int64(1), after.Decided)
	assert.Equal(t, int64(1), after.Matched)
	assert.Equal(t, 0, after.CompletedPADs, "one member of the PAD is still undecided")
	require.Len(t, after.APIs, 1, "missing_card annotations contribute no API")
	assert.Equal(t, 1, after.APIs[0].PADs)
	assert.Equal(t, 0, after.APIs[0].CompletedPADs)

	rec = doJSON(c, http.MethodPost, "/api/v1/matches", `{"annot_id":8,"card_id":"no_match"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(c, http.MethodGet, "/api/v1/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var done StatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &done))
	assert.Equal(t, 1, done.CompletedPADs)
	assert.Equal(t, 1, done.APIs[0].CompletedPADs)
}

func TestGetPADList(t *testing.T) {
	c := newTestController(t, testSettings(t))

	rec := doJSON(c, http.MethodGet, "/api/v1/apis/amoxicillin/pads", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var pads []PADSummary
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pads))
	require.Len(t, pads, 1)
	assert.Equal(t, int64(100), pads[0].SampleID)
	assert.Equal(t, "Amoxicillin 50%", pads[0].Sample)
	assert.Equal(t, 2, pads[0].Annotations)
	assert.Equal(t, "not_started", pads[0].Status)
	assert.False(t, pads[0].Complete)

	rec = doJSON(c, http.MethodPost, "/api/v1/matches", `{"annot_id":7,"card_id":10}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(c, http.MethodGet, "/api/v1/apis/amoxicillin/pads", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pads))
	assert.Equal(t, "partial", pads[0].Status)

	rec = doJSON(c, http.MethodPost, "/api/v1/matches", `{"annot_id":8,"card_id":"no_match"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(c, http.MethodGet, "/api/v1/apis/amoxicillin/pads", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pads))
	assert.Equal(t, "complete", pads[0].Status)
	assert.True(t, pads[0].Complete)

	rec = doJSON(c, http.MethodGet, "/api/v1/apis/unknown/pads", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestExportEndpointServesCSV(t *testing.T) {
	c := newTestController(t, testSettings(t))

	rec := doJSON(c, http.MethodPost, "/api/v1/matches", `{"annot_id":7,"card_id":10}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(c, http.MethodGet, "/api/v1/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get(echo.HeaderContentDisposition), "padmatch_matched_export_")

	body := rec.Body.String()
	assert.Contains(t, body, "matched_url")
	assert.Contains(t, body, "https://pad.crc.nd.edu/var/www/html/images/padimages/processed/10_processed.png")
}

func TestManualBackupEndpoints(t *testing.T) {
	c := newTestController(t, testSettings(t))

	rec := doJSON(c, http.MethodPost, "/api/v1/backups", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var metadata backup.Metadata
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &metadata))
	assert.Equal(t, backup.CategoryManual, metadata.Category)

	rec = doJSON(c, http.MethodDelete, "/api/v1/backups/"+metadata.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = doJSON(c, http.MethodDelete, "/api/v1/backups/..%2Fledger", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestBasicAuthGate(t *testing.T) {
	settings := testSettings(t)
	hash, err := bcrypt.GenerateFromPassword([]byte("hunter2"), bcrypt.MinCost)
	require.NoError(t, err)
	settings.Security.BasicAuth.Enabled = true
	settings.Security.BasicAuth.Username = "curator"
	settings.Security.BasicAuth.PasswordHash = string(hash)

	c := newTestController(t, settings)

	// Reads stay open.
	rec := doJSON(c, http.MethodGet, "/api/v1/stats", "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Writes require credentials.
	rec = doJSON(c, http.MethodPost, "/api/v1/matches", `{"annot_id":7,"card_id":10}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/matches",
		strings.NewReader(`{"annot_id":7,"card_id":10}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.SetBasicAuth("curator", "hunter2")
	auth := httptest.NewRecorder()
	c.Echo.ServeHTTP(auth, req)
	assert.Equal(t, http.StatusOK, auth.Code, auth.Body.String())

	req = httptest.NewRequest(http.MethodPost, "/api/v1/notes",
		strings.NewReader(`{"annot_id":7,"note":"x"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.SetBasicAuth("curator", "wrong")
	denied := httptest.NewRecorder()
	c.Echo.ServeHTTP(denied, req)
	assert.Equal(t, http.StatusUnauthorized, denied.Code)
}

func TestConcurrentMatchWritesOneWinner(t *testing.T) {
	c := newTestController(t, testSettings(t))

	const writers = 4
	codes := make(chan int, writers)
	for i := 0; i < writers; i++ {
		i := i
		go func() {
			body := fmt.Sprintf(`{"annot_id":%d,"card_id":11}`, 7+i%2)
			rec := doJSON(c, http.MethodPost, "/api/v1/matches", body)
			codes <- rec.Code
		}()
	}

	wins := 0
	for i := 0; i < writers; i++ {
		switch <-codes {
		case http.StatusOK:
			wins++
		case http.StatusConflict:
		default:
			t.Fatal("unexpected status")
		}
	}
	assert.GreaterOrEqual(t, wins, 1)

	claimed, err := c.Ledger.ClaimedCards()
	require.NoError(t, err)
	assert.Len(t, claimed, 1, "card 11 ends up claimed by exactly one annotation")
}
