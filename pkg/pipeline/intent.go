package pipeline

import (
	"regexp"
	"strings"
)

var weatherKeywords = []string{
	"weather", "temperature", "temp", "rain", "snow", "sunny", "cloudy", "forecast", "humid", "wind",
}

var weatherLocationPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:weather|temperature|temp|forecast|rain|snow|sunny|cloudy)\s+(?:in|at|for)\s+([a-zA-Z\s,]+?)(?:\s+today|\s+tomorrow|\s*\?|\s*$)`),
	regexp.MustCompile(`(?:how's|what's|hows|whats)\s+(?:the\s+)?(?:weather|temperature)\s+(?:in|at|for)\s+([a-zA-Z\s,]+?)(?:\s+today|\s+tomorrow|\s*\?|\s*$)`),
	regexp.MustCompile(`(?:is\s+it|will\s+it)\s+(?:rain|snow|sunny|cloudy)(?:ing)?\s+(?:in|at)\s+([a-zA-Z\s,]+?)(?:\s+today|\s+tomorrow|\s*\?|\s*$)`),
	regexp.MustCompile(`(?:what|how).*?(?:weather|temperature).*?(?:is|like).*?(?:in|at|for)\s+([a-zA-Z\s,]+?)(?:\s+today|\s+tomorrow|\s*\?|\s*$)`),
	regexp.MustCompile(`(?:weather|temperature).*?(?:like|is).*?(?:in|at|for)\s+([a-zA-Z\s,]+?)(?:\s+today|\s+tomorrow|\s*\?|\s*$)`),
	regexp.MustCompile(`(?:can you|could you).*?(?:tell|let me know|check).*?(?:weather|temperature).*?(?:in|at|for)\s+([a-zA-Z\s,]+?)(?:\s+today|\s+tomorrow|\s*\?|\s*$)`),
}

var locationSuffix = regexp.MustCompile(`\s+(today|tomorrow|right now|currently)$`)

// Интенты TomTom в порядке приоритета
const (
	TomTomDirections = "directions"
	TomTomTraffic    = "traffic"
	TomTomPOI        = "poi"
)

var tomtomIntents = []struct {
	name     string
	keywords []string
}{
	{TomTomDirections, []string{"directions", "route", "drive", "navigate", "how do i get", "how to get"}},
	{TomTomTraffic, []string{"traffic", "congestion", "delays", "accidents", "incidents"}},
	{TomTomPOI, []string{"find", "nearest", "nearby", "restaurants", "gas station", "hotel", "cafe", "coffee", "food", "atm", "pharmacy"}},
}

var poiPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?:find|nearest|nearby|locate)\s+(?:me\s+)?(?:a\s+)?(?:some\s+)?([a-zA-Z\s]+?)(?:\s+near|\s+in|\s+around|\?|$)`),
	regexp.MustCompile(`where (?:is|are|can i find)\s+(?:the\s+)?(?:nearest|closest|a|some)?\s*([a-zA-Z\s]+?)(?:\s+near|\s+in|\?|$)`),
	regexp.MustCompile(`(?:looking for|search for|need)\s+(?:a\s+)?(?:some\s+)?([a-zA-Z\s]+?)(?:\s+near|\s+in|\s+around|\?|$)`),
}

var emailKeywords = []string{"email", "e-mail", "mail", "inbox", "message"}

// ContainsAny ищет любое ключевое слово в тексте без учета регистра
func ContainsAny(text string, keywords []string) bool {
	lower := strings.ToLower(text)
	for _, k := range keywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// IsWeatherQuery абонент спрашивает о погоде
func IsWeatherQuery(text string) bool {
	return ContainsAny(text, weatherKeywords)
}

// WeatherLocation извлекает город из вопроса о погоде
func WeatherLocation(text string) (string, bool) {
	return firstGroup(weatherLocationPatterns, text, func(s string) string {
		return locationSuffix.ReplaceAllString(s, "")
	})
}

// IsEmailQuery абонент спрашивает о почте
func IsEmailQuery(text string) bool {
	return ContainsAny(text, emailKeywords)
}

// TomTomIntent возвращает первый подходящий интент TomTom или пустую строку
func TomTomIntent(text string) string {
	for _, intent := range tomtomIntents {
		if ContainsAny(text, intent.keywords) {
			return intent.name
		}
	}
	return ""
}

// POIQuery извлекает предмет поиска места
func POIQuery(text string) (string, bool) {
	return firstGroup(poiPatterns, text, nil)
}

func firstGroup(patterns []*regexp.Regexp, text string, clean func(string) string) (string, bool) {
	lower := strings.ToLower(text)
	for _, re := range patterns {
		m := re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		value := strings.TrimSpace(m[1])
		if clean != nil {
			value = clean(value)
		}
		if value != "" {
			return value, true
		}
	}
	return "", false
}
