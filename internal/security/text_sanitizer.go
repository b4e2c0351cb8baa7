// Package security はアプリケーションのセキュリティ機能を提供する。
package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// maxSanitizePasses はエスケープされたタグが復元されて再出現する場合の再処理上限。
const maxSanitizePasses = 4

// TextSanitizer はイベントのタイトル・説明や表示名などのプレーンテキストを無害化する。
// 出力先はDiscordメッセージとJSON APIであり、HTMLとして解釈されるタグは一切残さない。
type TextSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
// bluemondayのStrictPolicyで全タグを除去し、script/style要素は内容ごと削除する。
func NewTextSanitizer() *TextSanitizer {
	return &TextSanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// Sanitize はタグを除去し、HTMLエンティティを通常の文字に戻したテキストを返す。
// タグを構成しない"<"や">"（"a < b"など）はそのまま残す。
// 規定回数の処理後もエスケープが残る場合は、すべて復元したうえで山括弧を取り除く。
// 前後の空白は取り除く。
func (s *TextSanitizer) Sanitize(raw string) string {
	out := raw
	for i := 0; i < maxSanitizePasses; i++ {
		next := s.pass(out)
		if next == out {
			break
		}
		out = next
	}
	if s.pass(out) != out {
		out = angleBrackets.Replace(unescapeAll(out))
	}
	return strings.TrimSpace(out)
}

var angleBrackets = strings.NewReplacer("<", "", ">", "")

// unescapeAll はエンティティがなくなるまで復元を繰り返す。復元のたびに文字列は短くなる。
func unescapeAll(in string) string {
	for {
		next := html.UnescapeString(in)
		if next == in {
			return in
		}
		in = next
	}
}

// pass はタグを1回除去し、エスケープされた文字を元に戻す。
func (s *TextSanitizer) pass(in string) string {
	return html.UnescapeString(s.policy.Sanitize(in))
}
