package mediamodule

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/NicolasFerec/ferelix-server/internal/apperrors"
	"github.com/NicolasFerec/ferelix-server/internal/database"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// allowedFilterFields is the whitelist of MediaFile columns a
// recommendation row may filter on. It is part of the contract, not an
// optimization.
var allowedFilterFields = map[string]bool{
	"scanned_at":     true,
	"created_at":     true,
	"updated_at":     true,
	"duration":       true,
	"file_name":      true,
	"file_size":      true,
	"file_extension": true,
	"width":          true,
	"height":         true,
	"codec":          true,
	"bitrate":        true,
}

// allowedOrderFields is the whitelist of ordering columns.
var allowedOrderFields = map[string]bool{
	"scanned_at": true,
	"created_at": true,
	"updated_at": true,
	"duration":   true,
	"file_name":  true,
	"file_size":  true,
	"width":      true,
	"height":     true,
	"bitrate":    true,
}

// FilterCriterion is one clause of a recommendation row's criteria JSON.
type FilterCriterion struct {
	Field    string      `json:"field"`
	Operator string      `json:"operator"`
	Value    interface{} `json:"value"`
}

// applyCriteria translates validated criteria onto a query. Unknown fields
// or operators are invalid-argument errors.
func applyCriteria(query *gorm.DB, criteria []FilterCriterion) (*gorm.DB, error) {
	for _, criterion := range criteria {
		if criterion.Field == "" || criterion.Operator == "" {
			return nil, fmt.Errorf("%w: filter must have field and operator", apperrors.ErrInvalidArgument)
		}
		if !allowedFilterFields[criterion.Field] {
			return nil, fmt.Errorf("%w: filter field %q not allowed", apperrors.ErrInvalidArgument, criterion.Field)
		}

		column := criterion.Field
		switch criterion.Operator {
		case "eq":
			query = query.Where(column+" = ?", criterion.Value)
		case "ne":
			query = query.Where(column+" <> ?", criterion.Value)
		case "gt":
			query = query.Where(column+" > ?", criterion.Value)
		case "gte":
			query = query.Where(column+" >= ?", criterion.Value)
		case "lt":
			query = query.Where(column+" < ?", criterion.Value)
		case "lte":
			query = query.Where(column+" <= ?", criterion.Value)
		case "like":
			str, ok := criterion.Value.(string)
			if !ok {
				return nil, fmt.Errorf("%w: like operator requires a string value", apperrors.ErrInvalidArgument)
			}
			query = query.Where(column+" LIKE ?", str)
		case "ilike":
			str, ok := criterion.Value.(string)
			if !ok {
				return nil, fmt.Errorf("%w: ilike operator requires a string value", apperrors.ErrInvalidArgument)
			}
			query = query.Where("LOWER("+column+") LIKE LOWER(?)", str)
		case "in":
			values, ok := criterion.Value.([]interface{})
			if !ok {
				return nil, fmt.Errorf("%w: in operator requires a list value", apperrors.ErrInvalidArgument)
			}
			query = query.Where(column+" IN ?", values)
		case "not_in":
			values, ok := criterion.Value.([]interface{})
			if !ok {
				return nil, fmt.Errorf("%w: not_in operator requires a list value", apperrors.ErrInvalidArgument)
			}
			query = query.Where(column+" NOT IN ?", values)
		case "is_null":
			query = query.Where(column + " IS NULL")
		case "is_not_null":
			query = query.Where(column + " IS NOT NULL")
		default:
			return nil, fmt.Errorf("%w: unknown filter operator %q", apperrors.ErrInvalidArgument, criterion.Operator)
		}
	}
	return query, nil
}

// validateOrder checks the ordering column and direction.
func validateOrder(orderBy, orderDir string) (string, error) {
	if orderBy == "" {
		return "", nil
	}
	if !allowedOrderFields[orderBy] {
		return "", fmt.Errorf("%w: order field %q not allowed", apperrors.ErrInvalidArgument, orderBy)
	}
	dir := strings.ToLower(orderDir)
	if dir != "asc" && dir != "desc" {
		dir = "desc"
	}
	return orderBy + " " + dir, nil
}

// evaluateRow runs one recommendation row's query against the library.
func (m *Module) evaluateRow(library *database.Library, row *database.RecommendationRow) ([]database.MediaFile, error) {
	var criteria []FilterCriterion
	if row.Criteria != "" {
		if err := json.Unmarshal([]byte(row.Criteria), &criteria); err != nil {
			return nil, fmt.Errorf("%w: malformed criteria: %v", apperrors.ErrInvalidArgument, err)
		}
	}

	query := m.db.Model(&database.MediaFile{}).
		Where("file_path LIKE ? AND deleted_at IS NULL", library.Path+"%")

	query, err := applyCriteria(query, criteria)
	if err != nil {
		return nil, err
	}

	order, err := validateOrder(row.OrderBy, row.OrderDir)
	if err != nil {
		return nil, err
	}
	if order != "" {
		query = query.Order(order)
	}

	limit := row.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	query = query.Offset(row.Offset).Limit(limit)

	var items []database.MediaFile
	if err := query.Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

// listLibraryRows evaluates every enabled recommendation row of a library.
func (m *Module) listLibraryRows(c *gin.Context) {
	library, ok := m.loadLibrary(c)
	if !ok {
		return
	}

	var rows []database.RecommendationRow
	err := m.db.Where("library_id = ? AND enabled = ?", library.ID, true).
		Order("position").Find(&rows).Error
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	type rowResult struct {
		Row   database.RecommendationRow `json:"row"`
		Items []database.MediaFile       `json:"items"`
	}
	out := make([]rowResult, 0, len(rows))
	for i := range rows {
		items, err := m.evaluateRow(library, &rows[i])
		if err != nil {
			// A broken row is an admin mistake; skip it rather than break
			// the whole listing.
			continue
		}
		out = append(out, rowResult{Row: rows[i], Items: items})
	}
	c.JSON(http.StatusOK, gin.H{"rows": out})
}

// Dashboard: recommendation row CRUD

func (m *Module) listRecommendationRows(c *gin.Context) {
	var rows []database.RecommendationRow
	if err := m.db.Order("library_id, position").Find(&rows).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"rows": rows})
}

type recommendationRowRequest struct {
	LibraryID uint              `json:"library_id"`
	Title     string            `json:"title"`
	Criteria  []FilterCriterion `json:"criteria"`
	OrderBy   string            `json:"order_by"`
	OrderDir  string            `json:"order_dir"`
	Limit     int               `json:"limit"`
	Offset    int               `json:"offset"`
	Position  int               `json:"position"`
	Enabled   *bool             `json:"enabled"`
}

// validate checks the whitelists before a row is persisted so bad criteria
// fail loudly at write time, not at render time.
func (r *recommendationRowRequest) validate() error {
	for _, criterion := range r.Criteria {
		if criterion.Field == "" || criterion.Operator == "" {
			return fmt.Errorf("%w: filter must have field and operator", apperrors.ErrInvalidArgument)
		}
		if !allowedFilterFields[criterion.Field] {
			return fmt.Errorf("%w: filter field %q not allowed", apperrors.ErrInvalidArgument, criterion.Field)
		}
		switch criterion.Operator {
		case "eq", "ne", "gt", "gte", "lt", "lte", "like", "ilike", "in", "not_in", "is_null", "is_not_null":
		default:
			return fmt.Errorf("%w: unknown filter operator %q", apperrors.ErrInvalidArgument, criterion.Operator)
		}
	}
	if r.OrderBy != "" && !allowedOrderFields[r.OrderBy] {
		return fmt.Errorf("%w: order field %q not allowed", apperrors.ErrInvalidArgument, r.OrderBy)
	}
	return nil
}

func (m *Module) createRecommendationRow(c *gin.Context) {
	var req recommendationRowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request: " + err.Error()})
		return
	}
	if req.Title == "" || req.LibraryID == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "library_id and title are required"})
		return
	}
	if err := req.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	var library database.Library
	if err := m.db.First(&library, req.LibraryID).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Library not found"})
		return
	}

	criteriaJSON, _ := json.Marshal(req.Criteria)
	enabled := true
	if req.Enabled != nil {
		enabled = *req.Enabled
	}

	row := database.RecommendationRow{
		LibraryID: req.LibraryID,
		Title:     req.Title,
		Criteria:  string(criteriaJSON),
		OrderBy:   req.OrderBy,
		OrderDir:  req.OrderDir,
		Limit:     req.Limit,
		Offset:    req.Offset,
		Position:  req.Position,
		Enabled:   enabled,
	}
	if err := m.db.Create(&row).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, row)
}

func (m *Module) updateRecommendationRow(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid row ID"})
		return
	}

	var row database.RecommendationRow
	if err := m.db.First(&row, uint(id)).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			c.JSON(http.StatusNotFound, gin.H{"detail": "Recommendation row not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}

	var req recommendationRowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid request: " + err.Error()})
		return
	}
	if err := req.validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": err.Error()})
		return
	}

	if req.Title != "" {
		row.Title = req.Title
	}
	if req.Criteria != nil {
		criteriaJSON, _ := json.Marshal(req.Criteria)
		row.Criteria = string(criteriaJSON)
	}
	if req.OrderBy != "" {
		row.OrderBy = req.OrderBy
	}
	if req.OrderDir != "" {
		row.OrderDir = req.OrderDir
	}
	if req.Limit > 0 {
		row.Limit = req.Limit
	}
	if req.Offset >= 0 {
		row.Offset = req.Offset
	}
	if req.Position >= 0 {
		row.Position = req.Position
	}
	if req.Enabled != nil {
		row.Enabled = *req.Enabled
	}

	if err := m.db.Save(&row).Error; err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": err.Error()})
		return
	}
	c.JSON(http.StatusOK, row)
}

func (m *Module) deleteRecommendationRow(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 32)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"detail": "Invalid row ID"})
		return
	}

	result := m.db.Delete(&database.RecommendationRow{}, uint(id))
	if result.Error != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"detail": result.Error.Error()})
		return
	}
	if result.RowsAffected == 0 {
		c.JSON(http.StatusNotFound, gin.H{"detail": "Recommendation row not found"})
		return
	}
	c.Status(http.StatusNoContent)
}
