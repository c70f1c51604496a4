package llm

import (
	"bufio"
	"errors"
	"io"
	"strings"
	"unicode/utf8"

	apperrors "storyforge-api/pkg/errors"
)

// lineReader 按行读取流式响应。
// 流在一行中途结束视为截断，返回 ErrStreamFraming，而不是把残缺内容当作完整帧。
type lineReader struct {
	r *bufio.Reader
}

func newLineReader(r io.Reader) *lineReader {
	return &lineReader{r: bufio.NewReaderSize(r, 64*1024)}
}

// next 返回去掉行尾的下一行；partial 为 true 表示该行未以换行结束（流已结束）
func (l *lineReader) next() (line string, partial bool, err error) {
	s, err := l.r.ReadString('\n')
	if err != nil {
		if errors.Is(err, io.EOF) {
			if s == "" {
				return "", false, io.EOF
			}
			return strings.TrimRight(s, "\r"), true, nil
		}
		return "", false, apperrors.ErrTransport.WithError(err)
	}
	return strings.TrimRight(s, "\r\n"), false, nil
}

func framingError(detail string) error {
	return apperrors.ErrStreamFraming.WithDetail(detail)
}

// truncate 截断到至多 n 字节，不切断多字节字符
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	cut := n
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
