// Package lorebook 根据文本中出现的关键词挑选相关的设定条目
package lorebook

import (
	"context"
	"strings"
	"unicode/utf8"

	"storyforge-api/internal/domain/entity"
	"storyforge-api/internal/domain/repository"
	apperrors "storyforge-api/pkg/errors"
)

type Matcher struct {
	entries repository.LorebookRepository
}

func NewMatcher(entries repository.LorebookRepository) *Matcher {
	return &Matcher{entries: entries}
}

// Match 返回故事中关键词出现在 texts 里的条目，保持仓储返回的顺序
func (m *Matcher) Match(ctx context.Context, storyID string, texts ...string) ([]*entity.LorebookEntry, error) {
	all, err := m.entries.ListByStory(ctx, storyID)
	if err != nil {
		return nil, apperrors.ErrDataUnavailable.WithError(err)
	}
	return MatchEntries(all, texts...), nil
}

// Select 合并显式指定的条目与自动匹配的条目，按 ID 去重；显式条目在前
func (m *Matcher) Select(ctx context.Context, storyID string, ids []string, texts ...string) ([]*entity.LorebookEntry, error) {
	var explicit []*entity.LorebookEntry
	if len(ids) > 0 {
		var err error
		explicit, err = m.entries.GetByIDs(ctx, storyID, ids)
		if err != nil {
			return nil, apperrors.ErrDataUnavailable.WithError(err)
		}
	}

	var matched []*entity.LorebookEntry
	if hasText(texts) {
		var err error
		matched, err = m.Match(ctx, storyID, texts...)
		if err != nil {
			return nil, err
		}
	}

	seen := make(map[string]struct{}, len(explicit)+len(matched))
	out := make([]*entity.LorebookEntry, 0, len(explicit)+len(matched))
	for _, e := range append(explicit, matched...) {
		if _, ok := seen[e.ID]; ok {
			continue
		}
		seen[e.ID] = struct{}{}
		out = append(out, e)
	}
	return out, nil
}

// MatchEntries 不区分大小写地匹配条目关键词；禁用的条目不参与匹配
func MatchEntries(entries []*entity.LorebookEntry, texts ...string) []*entity.LorebookEntry {
	haystack := strings.ToLower(strings.Join(texts, "\n"))
	if strings.TrimSpace(haystack) == "" {
		return nil
	}

	var out []*entity.LorebookEntry
	for _, e := range entries {
		if e == nil || e.IsDisabled {
			continue
		}
		for _, kw := range e.Keywords() {
			if containsKeyword(haystack, strings.ToLower(kw)) {
				out = append(out, e)
				break
			}
		}
	}
	return out
}

// containsKeyword 子串匹配；关键词首尾为 ASCII 字母数字时要求词边界，
// 避免 "Ann" 命中 "Annual"。CJK 文本没有空格分词，不做边界要求。
func containsKeyword(haystack, kw string) bool {
	if kw == "" {
		return false
	}
	for offset := 0; offset < len(haystack); {
		i := strings.Index(haystack[offset:], kw)
		if i < 0 {
			return false
		}
		start := offset + i
		end := start + len(kw)
		if boundaryOK(haystack, start, end, kw) {
			return true
		}
		_, size := utf8.DecodeRuneInString(haystack[start:])
		offset = start + size
	}
	return false
}

func boundaryOK(s string, start, end int, kw string) bool {
	if isASCIIWord(kw[0]) && start > 0 && isASCIIWord(s[start-1]) {
		return false
	}
	if isASCIIWord(kw[len(kw)-1]) && end < len(s) && isASCIIWord(s[end]) {
		return false
	}
	return true
}

func isASCIIWord(b byte) bool {
	return b == '_' || (b >= '0' && b <= '9') || (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z')
}

func hasText(texts []string) bool {
	for _, t := range texts {
		if strings.TrimSpace(t) != "" {
			return true
		}
	}
	return false
}
