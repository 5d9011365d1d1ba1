package mediamodule

import (
	"testing"

	"github.com/NicolasFerec/ferelix-server/internal/apperrors"
	"github.com/NicolasFerec/ferelix-server/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func TestApplyCriteriaRejectsUnknownField(t *testing.T) {
	db := newTestDB(t)
	_, err := applyCriteria(db.Model(&database.MediaFile{}), []FilterCriterion{
		{Field: "password_hash", Operator: "eq", Value: "x"},
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestApplyCriteriaRejectsUnknownOperator(t *testing.T) {
	db := newTestDB(t)
	_, err := applyCriteria(db.Model(&database.MediaFile{}), []FilterCriterion{
		{Field: "duration", Operator: "between", Value: 10},
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestApplyCriteriaRejectsMissingParts(t *testing.T) {
	db := newTestDB(t)
	_, err := applyCriteria(db.Model(&database.MediaFile{}), []FilterCriterion{
		{Field: "", Operator: "eq", Value: 1},
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)

	_, err = applyCriteria(db.Model(&database.MediaFile{}), []FilterCriterion{
		{Field: "duration", Operator: "", Value: 1},
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestApplyCriteriaTypeChecksOperators(t *testing.T) {
	db := newTestDB(t)

	_, err := applyCriteria(db.Model(&database.MediaFile{}), []FilterCriterion{
		{Field: "file_name", Operator: "like", Value: 42},
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)

	_, err = applyCriteria(db.Model(&database.MediaFile{}), []FilterCriterion{
		{Field: "codec", Operator: "in", Value: "h264"},
	})
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestValidateOrder(t *testing.T) {
	order, err := validateOrder("duration", "asc")
	require.NoError(t, err)
	assert.Equal(t, "duration asc", order)

	// Direction defaults to desc.
	order, err = validateOrder("created_at", "sideways")
	require.NoError(t, err)
	assert.Equal(t, "created_at desc", order)

	order, err = validateOrder("", "")
	require.NoError(t, err)
	assert.Empty(t, order)

	_, err = validateOrder("file_path", "asc")
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func seedMedia(t *testing.T, db *gorm.DB, path string, duration float64, codec string) {
	t.Helper()
	d := duration
	c := codec
	require.NoError(t, db.Create(&database.MediaFile{
		FilePath:      path,
		FileName:      path,
		FileExtension: ".mp4",
		Duration:      &d,
		Codec:         &c,
	}).Error)
}

func TestEvaluateRowFiltersAndOrders(t *testing.T) {
	db := newTestDB(t)
	m := &Module{db: db}

	library := database.Library{Name: "Movies", Path: "/m", Enabled: true}
	require.NoError(t, db.Create(&library).Error)

	seedMedia(t, db, "/m/short.mp4", 300, "h264")
	seedMedia(t, db, "/m/long.mp4", 7200, "h264")
	seedMedia(t, db, "/m/longer.mp4", 9000, "hevc")
	seedMedia(t, db, "/other/out.mp4", 9000, "h264")

	row := database.RecommendationRow{
		LibraryID: library.ID,
		Title:     "Long movies",
		Criteria:  `[{"field":"duration","operator":"gte","value":3600}]`,
		OrderBy:   "duration",
		OrderDir:  "desc",
		Limit:     10,
	}

	items, err := m.evaluateRow(&library, &row)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "/m/longer.mp4", items[0].FilePath)
	assert.Equal(t, "/m/long.mp4", items[1].FilePath)
}

func TestEvaluateRowExcludesSoftDeleted(t *testing.T) {
	db := newTestDB(t)
	m := &Module{db: db}

	library := database.Library{Name: "Movies", Path: "/m", Enabled: true}
	require.NoError(t, db.Create(&library).Error)

	seedMedia(t, db, "/m/live.mp4", 300, "h264")
	seedMedia(t, db, "/m/dead.mp4", 300, "h264")
	require.NoError(t, db.Model(&database.MediaFile{}).
		Where("file_path = ?", "/m/dead.mp4").
		Update("deleted_at", "2024-01-01 00:00:00").Error)

	items, err := m.evaluateRow(&library, &database.RecommendationRow{Limit: 10})
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "/m/live.mp4", items[0].FilePath)
}

func TestEvaluateRowRejectsMalformedCriteria(t *testing.T) {
	db := newTestDB(t)
	m := &Module{db: db}
	library := database.Library{Name: "Movies", Path: "/m", Enabled: true}
	require.NoError(t, db.Create(&library).Error)

	row := database.RecommendationRow{Criteria: "{not a list}"}
	_, err := m.evaluateRow(&library, &row)
	assert.ErrorIs(t, err, apperrors.ErrInvalidArgument)
}

func TestRecommendationRowRequestValidation(t *testing.T) {
	valid := recommendationRowRequest{
		LibraryID: 1,
		Title:     "Recent",
		Criteria: []FilterCriterion{
			{Field: "created_at", Operator: "gte", Value: "2024-01-01"},
			{Field: "codec", Operator: "in", Value: []interface{}{"h264", "hevc"}},
			{Field: "duration", Operator: "is_not_null"},
		},
		OrderBy: "created_at",
	}
	assert.NoError(t, valid.validate())

	bad := valid
	bad.Criteria = []FilterCriterion{{Field: "codec", Operator: "regexp", Value: ".*"}}
	assert.ErrorIs(t, bad.validate(), apperrors.ErrInvalidArgument)

	bad = valid
	bad.OrderBy = "codec"
	assert.ErrorIs(t, bad.validate(), apperrors.ErrInvalidArgument)
}
