package normalize

import "unicode"

// DetectLanguage guesses the dominant language of text from its script
// composition. The harvested corpus is Chinese government and industry
// sources with occasional English announcements, so a two-way
// CJK-versus-Latin split is all the pipeline needs.
func DetectLanguage(text string) (lang string, confidence float64) {
	var cjk, letters int
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			cjk++
			letters++
		case unicode.IsLetter(r):
			letters++
		}
	}

	if letters == 0 {
		return "zh", 0.1
	}

	ratio := float64(cjk) / float64(letters)
	if ratio >= 0.3 {
		return "zh", ratio
	}
	// Short snippets carry little signal either way.
	if letters < 20 {
		return "en", 0.3
	}
	return "en", 1 - ratio
}
