package records

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeCSV(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const annotationsCSV = "annot_id,PAD#,Camera,\"Lighting (lightbox, benchtop, benchtop dark)\",black/white background,API,Sample,mg concentration (w/w mg/mg or w/v mg/mL),% Conc,missing_card\n" +
	"7,100,nokia,lightbox,white,amoxicillin,tablet,12.50,50%,False\n" +
	"8,100,ipad,benchtop,black,amoxicillin,tablet,12.50,50%,False\n" +
	"9.0,200,pixel,lightbox,white,quinine,powder,,,True\n"

const cardsCSV = "id,sample_id,sample_name,quantity,camera_type_1,deleted,date_of_creation,processed_file_location\n" +
	"10,100,Amoxicillin 50%,20.0,HMD Global Nokia 2.3,False,2023-04-01,/var/www/html/images/padimages/processed/10_processed.png\n" +
	"11,100,Amoxicillin 50%,20.0,iPad,False,2023-04-02,/var/www/html/images/padimages/processed/11_processed.png\n"

func TestLoadAnnotations(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, "annotations.csv", annotationsCSV)
	rows, err := LoadAnnotations(path)
	require.NoError(t, err)
	require.Len(t, rows, 3)

	assert.Equal(t, int64(7), rows[0].AnnotID)
	assert.Equal(t, int64(100), rows[0].SampleID)
	assert.Equal(t, "nokia", rows[0].Camera)
	assert.Equal(t, "amoxicillin", rows[0].APIName)
	assert.Equal(t, "12.50", rows[0].MgConcentration, "raw text must survive the load")
	assert.False(t, rows[0].MissingCard)

	// Float rendering of the key must parse to the integer identity.
	assert.Equal(t, int64(9), rows[2].AnnotID)
	assert.True(t, rows[2].MissingCard)
}

func TestLoadAnnotationsWithBOM(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, "annotations.csv", "\xef\xbb\xbf"+annotationsCSV)
	rows, err := LoadAnnotations(path)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, int64(7), rows[0].AnnotID)
}

func TestLoadAnnotationsMissingColumn(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, "annotations.csv", "annot_id,Camera\n7,nokia\n")
	_, err := LoadAnnotations(path)
	assert.Error(t, err)
}

func TestLoadProjectCards(t *testing.T) {
	t.Parallel()

	path := writeCSV(t, "cards.csv", cardsCSV)
	rows, err := LoadProjectCards(path)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, int64(10), rows[0].CardID)
	assert.Equal(t, int64(100), rows[0].SampleID)
	assert.Equal(t, "HMD Global Nokia 2.3", rows[0].CameraType)
	assert.Equal(t, "20.0", rows[0].Quantity, "raw text must survive the load")
}

func TestParseID(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"42", 42, false},
		{"42.0", 42, false},
		{"0", 0, false},
		{"", 0, true},
		{"42.5", 0, true},
		{"abc", 0, true},
	}
	for _, tc := range tests {
		got, err := parseID(tc.input)
		if tc.wantErr {
			assert.Error(t, err, "input %q", tc.input)
			continue
		}
		require.NoError(t, err, "input %q", tc.input)
		assert.Equal(t, tc.want, got, "input %q", tc.input)
	}
}

func testStore(t *testing.T) *Store {
	t.Helper()
	annotations, err := LoadAnnotations(writeCSV(t, "annotations.csv", annotationsCSV))
	require.NoError(t, err)
	cards, err := LoadProjectCards(writeCSV(t, "cards.csv", cardsCSV))
	require.NoError(t, err)
	store, err := NewStore(annotations, cards, nil)
	require.NoError(t, err)
	return store
}

func TestStoreLookups(t *testing.T) {
	t.Parallel()

	store := testStore(t)

	annot, ok := store.AnnotationByID(7)
	require.True(t, ok)
	assert.Equal(t, int64(100), annot.SampleID)

	_, ok = store.AnnotationByID(999)
	assert.False(t, ok)

	card, ok := store.CardByID(11)
	require.True(t, ok)
	assert.Equal(t, "iPad", card.CameraType)

	assert.Empty(t, store.CardsForSample(999), "unknown sample is empty, not an error")
}

func TestStoreGroups(t *testing.T) {
	t.Parallel()

	store := testStore(t)

	assert.Equal(t, []int64{7, 8}, store.GroupMembers("amoxicillin", 100))

	// missing_card rows stay out of the matching workflow entirely.
	assert.Empty(t, store.GroupMembers("quinine", 200))
	assert.Equal(t, []string{"amoxicillin"}, store.APINames())
	assert.Equal(t, []int64{100}, store.SampleIDsForAPI("amoxicillin"))

	assert.Len(t, store.Annotations(), 3)
	assert.Len(t, store.MatchableAnnotations(), 2)
}

func TestStoreRejectsDuplicateKeys(t *testing.T) {
	t.Parallel()

	annotations := []AnnotationRow{{AnnotID: 1, SampleID: 5}, {AnnotID: 1, SampleID: 6}}
	_, err := NewStore(annotations, nil, nil)
	assert.Error(t, err)

	cards := []ProjectCardRow{{CardID: 2, SampleID: 5}, {CardID: 2, SampleID: 6}}
	_, err = NewStore(nil, cards, nil)
	assert.Error(t, err)
}

func defaultAliases() map[string]string {
	return map[string]string{
		"nokia": "HMD Global Nokia 2.3",
		"ipad":  "iPad",
		"pixel": "Google Pixel 3a",
	}
}

func TestNormalizeCamera(t *testing.T) {
	t.Parallel()

	r := NewResolver(testStore(t), defaultAliases())

	assert.Equal(t, "HMD Global Nokia 2.3", r.NormalizeCamera("nokia"))
	assert.Equal(t, "HMD Global Nokia 2.3", r.NormalizeCamera(" Nokia "))
	assert.Equal(t, "Samsung S21", r.NormalizeCamera("Samsung S21"), "unknown devices pass through")
	assert.Equal(t, "", r.NormalizeCamera("  "))

	// Normalizing twice must be a no-op.
	once := r.NormalizeCamera("ipad")
	assert.Equal(t, once, r.NormalizeCamera(once))
}

func TestResolveOrdersCameraMatchesFirst(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	r := NewResolver(store, defaultAliases())

	annot, ok := store.AnnotationByID(7)
	require.True(t, ok)
	require.Equal(t, "nokia", annot.Camera)

	candidates := r.Resolve(annot)
	require.Len(t, candidates, 2)
	assert.Equal(t, int64(10), candidates[0].Card.CardID)
	assert.Equal(t, 1, candidates[0].Score)
	assert.Equal(t, int64(11), candidates[1].Card.CardID)
	assert.Equal(t, 0, candidates[1].Score)
}

func TestResolveKeepsAllCandidates(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	r := NewResolver(store, defaultAliases())

	// No camera preference: source order, all scores zero.
	candidates := r.Resolve(AnnotationRow{AnnotID: 50, SampleID: 100, Camera: ""})
	require.Len(t, candidates, 2)
	assert.Equal(t, int64(10), candidates[0].Card.CardID)
	assert.Equal(t, int64(11), candidates[1].Card.CardID)
	for _, c := range candidates {
		assert.Equal(t, 0, c.Score)
	}

	// Ranking never filters: an unknown device still sees every card.
	candidates = r.Resolve(AnnotationRow{AnnotID: 51, SampleID: 100, Camera: "Samsung S21"})
	assert.Len(t, candidates, 2)

	assert.Nil(t, r.Resolve(AnnotationRow{AnnotID: 52, SampleID: 999}))
}

func TestResolveIsStable(t *testing.T) {
	t.Parallel()

	store := testStore(t)
	r := NewResolver(store, defaultAliases())
	annot, _ := store.AnnotationByID(8)

	first := r.Resolve(annot)
	for i := 0; i < 10; i++ {
		assert.Equal(t, first, r.Resolve(annot))
	}
}
