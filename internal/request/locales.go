package request

import "slices"

var supportedLanguages = []string{
	"nb-no", "fr-ca", "fi-fi", "lv-lv", "es-es", "en-gb", "zh-tw", "th-th",
	"sv-se", "en-us", "es-mx", "bg-bg", "hr-hr", "pt-br", "el-gr", "cs-cz",
	"it-it", "sk-sk", "pl-pl", "sl-si", "neutral", "ja-jp", "et-ee", "ro-ro",
	"fr-fr", "pt-pt", "ar-sa", "lt-lt", "hu-hu", "da-dk", "zh-cn", "uk-ua",
	"tr-tr", "ru-ru", "nl-nl", "he-il", "ko-kr", "sr-latn-rs", "de-de",
}

// SupportedLanguages returns the accepted locale codes.
func SupportedLanguages() []string {
	return slices.Clone(supportedLanguages)
}

// IsSupportedLanguage reports whether code is an accepted (lower case) locale.
func IsSupportedLanguage(code string) bool {
	return slices.Contains(supportedLanguages, code)
}
