package normalize

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCleanMarkupStripsUnsafeElements(t *testing.T) {
	t.Parallel()

	in := `<div onclick="x()"><script>steal()</script><style>p{}</style>` +
		`<p>正文<a href="https://example.cn/a">链接</a></p>` +
		`<iframe src="https://ads.example.com"></iframe></div>`
	out := CleanMarkup(in)

	require.NotContains(t, out, "script")
	require.NotContains(t, out, "iframe")
	require.NotContains(t, out, "onclick")
	require.Contains(t, out, `<a href="https://example.cn/a"`)
	require.Contains(t, out, "正文")
}

func TestExtractTextNormalizesWhitespace(t *testing.T) {
	t.Parallel()

	in := "<div><p>第一段&nbsp;&nbsp;文字</p>\n\n\n<p>  第二段 </p><br><p>第三段</p></div>"
	require.Equal(t, "第一段 文字\n\n第二段\n\n第三段", ExtractText(in))
}

func TestExtractTextDecodesEntities(t *testing.T) {
	t.Parallel()

	require.Equal(t, `批准 "上市" <附条件>`, ExtractText("<p>批准 &quot;上市&quot; &lt;附条件&gt;</p>"))
}

func TestExtractTextRemovesZeroWidthRunes(t *testing.T) {
	t.Parallel()

	require.Equal(t, "申报指南", ExtractText("<p>申\u200b报\ufeff指南</p>"))
}

func TestDetectLanguage(t *testing.T) {
	t.Parallel()

	lang, conf := DetectLanguage("国家药品监督管理局发布最新通知，要求各单位认真落实。")
	require.Equal(t, "zh", lang)
	require.Greater(t, conf, 0.5)

	lang, conf = DetectLanguage("The agency published updated guidance for marketing authorization holders across the region.")
	require.Equal(t, "en", lang)
	require.Greater(t, conf, 0.5)

	lang, _ = DetectLanguage("")
	require.Equal(t, "zh", lang)
}
