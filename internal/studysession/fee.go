package studysession

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/hitoshi/studydesk/internal/model"
)

// maxFeeCents は受け付ける料金の上限（100万ドル）。
const maxFeeCents int64 = 100_000_000

// ParseFee は主通貨単位の料金文字列（"25", "25.5", "25.00"）を最小通貨単位の整数に変換する。
// 浮動小数点を経由せずに変換し、小数点以下3桁以上や負数は拒否する。
func ParseFee(raw string) (int64, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return 0, model.NewInvalidFeeError("料金が指定されていません")
	}
	if strings.HasPrefix(s, "-") {
		return 0, model.NewInvalidFeeError("負の料金は指定できません")
	}

	whole, frac, hasDot := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if hasDot && (frac == "" || len(frac) > 2) {
		return 0, model.NewInvalidFeeError(fmt.Sprintf("小数点以下は2桁までです: %s", raw))
	}
	for len(frac) < 2 {
		frac += "0"
	}
	if !isDigits(whole) || !isDigits(frac) {
		return 0, model.NewInvalidFeeError(fmt.Sprintf("数値ではありません: %s", raw))
	}

	units, err := strconv.ParseInt(whole, 10, 64)
	if err != nil || units > maxFeeCents/100 {
		return 0, model.NewInvalidFeeError("料金が上限を超えています")
	}
	cents, _ := strconv.ParseInt(frac, 10, 64)

	total := units*100 + cents
	if total > maxFeeCents {
		return 0, model.NewInvalidFeeError("料金が上限を超えています")
	}
	return total, nil
}

// FormatFee は最小通貨単位の金額を"25.00"形式の文字列にする。
func FormatFee(cents int64) string {
	sign := ""
	if cents < 0 {
		sign = "-"
		cents = -cents
	}
	return fmt.Sprintf("%s%d.%02d", sign, cents/100, cents%100)
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
