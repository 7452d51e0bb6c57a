package sas

// IPRange はSASトークンで許可するIPアドレス範囲を表す。
// Start のみ指定した場合は単一アドレスとして扱われる。
type IPRange struct {
	Start string
	End   string
}

// String はSAS文字列（sipパラメータ）用のワイヤ形式を返す。
// Endが未指定またはStartと同一の場合はStartのみ、
// それ以外は "start-end" 形式を返す。
// アドレスの構文検証は行わない（呼び出し側の責務）。
func (r IPRange) String() string {
	if r.End == "" || r.End == r.Start {
		return r.Start
	}
	return r.Start + "-" + r.End
}
