package model

const (
	// DefaultPageLimit はlimit未指定時の1ページあたりの件数。
	DefaultPageLimit = 10
	// MaxPageLimit はlimitの上限。
	MaxPageLimit = 100
)

// PageRequest はページ番号ベースのページネーション指定。Pageは1始まり。
type PageRequest struct {
	Page  int
	Limit int
}

// Normalize は範囲外の値をデフォルトまたは上限に丸めたPageRequestを返す。
func (p PageRequest) Normalize() PageRequest {
	if p.Page < 1 {
		p.Page = 1
	}
	if p.Limit < 1 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	return p
}

// Offset はSQLのOFFSET値を返す。
func (p PageRequest) Offset() int {
	n := p.Normalize()
	return (n.Page - 1) * n.Limit
}

// Page は一覧APIのページ結果。
type Page[T any] struct {
	Items      []T
	TotalItems int
	TotalPages int
}

// NewPage は総件数からTotalPagesを算出してPageを生成する。
func NewPage[T any](items []T, totalItems int, req PageRequest) Page[T] {
	n := req.Normalize()
	totalPages := 0
	if totalItems > 0 {
		totalPages = (totalItems + n.Limit - 1) / n.Limit
	}
	if items == nil {
		items = []T{}
	}
	return Page[T]{Items: items, TotalItems: totalItems, TotalPages: totalPages}
}
