// Package security は投稿内容の安全性に関わる処理を提供する。
//
// TextSanitizer は投稿本文からHTMLを除去し、MediaURLValidator は
// 投稿に添付されるメディアURLを静的に検証する。
package security

import (
	"html"
	"strings"
	"unicode/utf8"

	"github.com/microcosm-cc/bluemonday"
)

// MaxDescLength は投稿本文の最大文字数（rune数）。
const MaxDescLength = 2000

// TextSanitizer は投稿本文のサニタイズ機能のインターフェース。
type TextSanitizer interface {
	// Sanitize は本文から全てのHTMLタグを除去したプレーンテキストを返す。
	// 前後の空白は取り除き、MaxDescLengthを超える部分は切り詰める。
	// 同一入力に対して常に同一出力を返す。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemonday.Policyは並行利用に対して安全。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はタグを一切許可しないポリシーでTextSanitizerを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize は本文をプレーンテキストに変換する。
func (s *textSanitizer) Sanitize(raw string) string {
	// StrictPolicyは残した文字をエスケープして返すため、保存前に元に戻す
	text := html.UnescapeString(s.policy.Sanitize(raw))
	text = strings.TrimSpace(text)

	if utf8.RuneCountInString(text) > MaxDescLength {
		runes := []rune(text)
		text = string(runes[:MaxDescLength])
	}
	return text
}
