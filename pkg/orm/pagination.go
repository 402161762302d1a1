package orm

import "gorm.io/gorm"

// MaxPageSize 管理后台单页上限
const MaxPageSize = 200

// ApplyPagination 应用分页到 GORM 查询
// page <= 0 或 limit <= 0 时不分页，limit 超过上限时按上限截断
func ApplyPagination(db *gorm.DB, page, limit int) *gorm.DB {
	if page <= 0 || limit <= 0 {
		return db
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return db.Offset((page - 1) * limit).Limit(limit)
}
