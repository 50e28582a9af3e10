package extract

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/sells-group/candidate-intake/internal/model"
)

// Rule extracts one field. The first non-empty capture group of Pattern is
// handed to Transform, which may reject it.
type Rule struct {
	Field     string
	Pattern   *regexp.Regexp
	Transform func(string) (any, bool)
}

func (r Rule) match(text string) (string, bool) {
	m := r.Pattern.FindStringSubmatch(text)
	if m == nil {
		return "", false
	}
	for _, g := range m[1:] {
		if g != "" {
			return g, true
		}
	}
	return "", false
}

func (r Rule) apply(raw string) (any, bool) {
	if r.Transform == nil {
		return textValue(raw)
	}
	return r.Transform(raw)
}

const (
	blank = `[ \t\x{00A0}\x{3000}]`
	// sep is the separator between a label and its value: a colon, a
	// closing bracket, or plain whitespace.
	sep = `(?:` + blank + `*[:：]|[】\]](?:` + blank + `*[:：])?|` + blank + `)` + blank + `*`
	// lead allows list bullets or an opening bracket before a label.
	lead = `(?m)^` + blank + `*(?:[【\[■●◆・*-]` + blank + `*)?`
)

// labelled builds a line-anchored "label: value" pattern capturing the rest
// of the line.
func labelled(labels string) *regexp.Regexp {
	return regexp.MustCompile(lead + `(?:` + labels + `)` + sep + `([^\n]+)`)
}

// DefaultRules returns the rule table for the supported portal formats.
// Order matters only for readability; each field is filled at most once.
func DefaultRules() []Rule {
	return []Rule{
		{Field: model.FieldName, Pattern: labelled(`氏名|お名前|名前|応募者名|応募者氏名`)},
		{Field: model.FieldFurigana, Pattern: labelled(`フリガナ|ふりがな|氏名\(フリガナ\)|氏名\(ふりがな\)|カナ氏名`)},
		{Field: model.FieldGender, Pattern: labelled(`性別`), Transform: gender},
		{Field: model.FieldAge, Pattern: ageRe, Transform: age},
		{
			Field:     model.FieldPhoneNumber,
			Pattern:   regexp.MustCompile(lead + `(?:電話番号|携帯電話番号|携帯番号|連絡先電話番号|電話|TEL|Tel|tel)` + sep + `(\+?[0-9][0-9\- ]{8,15}[0-9])`),
			Transform: phone,
		},
		{Field: model.FieldAddress, Pattern: labelled(`住所|現住所|お住まい|居住地`)},
		{Field: model.FieldCurrentCompany, Pattern: labelled(`現在の勤務先|勤務先|在籍企業|現職企業|直近の勤務先|現在の会社`)},
		{Field: model.FieldCurrentJobType, Pattern: labelled(`現在の職種|現職種|直近の職種|経験職種`)},
		{Field: model.FieldCurrentSalary, Pattern: labelled(`現在の年収|現年収|直近の年収|年収`), Transform: salary},
		{Field: model.FieldDesiredJobType, Pattern: labelled(`希望職種`)},
		{Field: model.FieldDesiredIndustry, Pattern: labelled(`希望業種|希望業界`)},
		{Field: model.FieldDesiredSalary, Pattern: labelled(`希望年収|希望給与`), Transform: salary},
		{Field: model.FieldDesiredLocation, Pattern: labelled(`希望勤務地|勤務希望地`)},
		{Field: model.FieldDesiredStartTiming, Pattern: labelled(`転職希望時期|入社可能時期|入社希望時期|希望入社時期|就業開始可能日`)},
		{Field: model.FieldDriverLicense, Pattern: labelled(`運転免許|普通自動車免許|自動車免許`), Transform: license},
	}
}

// ageRe only accepts digits adjacent to the 年齢 label: "年齢：29歳",
// "年齢（満）35 歳" or "35歳（年齢）". A bare "N歳" elsewhere is ignored.
var ageRe = regexp.MustCompile(lead + `年齢` + sep + `(\d{1,3})` +
	`|年齢[^\n\d]{0,8}?(\d{1,3})` + blank + `*歳` +
	`|(?:^|\D)(\d{1,3})` + blank + `*歳` + blank + `*[（(]?` + blank + `*年齢`)

var spaceRunRe = regexp.MustCompile(blank + `+`)

func collapse(s string) string {
	return strings.TrimSpace(spaceRunRe.ReplaceAllString(strings.TrimSpace(s), " "))
}

func textValue(raw string) (any, bool) {
	s := collapse(strings.Trim(raw, " \t 　"))
	return s, s != ""
}

func gender(raw string) (any, bool) {
	s := collapse(raw)
	switch {
	case strings.HasPrefix(s, "男"):
		return "男性", true
	case strings.HasPrefix(s, "女"):
		return "女性", true
	case s == "":
		return nil, false
	}
	return s, true
}

func age(raw string) (any, bool) {
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 || n >= 130 {
		return nil, false
	}
	return n, true
}

func phone(raw string) (any, bool) {
	s := strings.NewReplacer("-", "", " ", "").Replace(raw)
	if strings.HasPrefix(s, "+81") {
		s = "0" + strings.TrimPrefix(s, "+81")
	}
	if len(s) < 10 || len(s) > 11 {
		return nil, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return nil, false
		}
	}
	return s, true
}

var salaryRe = regexp.MustCompile(`(\d+(?:\.\d+)?)` + blank + `*(万円|万|円)?(?:` + blank + `*[~〜～\-－‐]` + blank + `*(\d+(?:\.\d+)?)` + blank + `*(万円|万|円)?)?`)

// salary parses an annual amount in units of 10,000 yen. For a range the
// upper bound is kept.
func salary(raw string) (any, bool) {
	m := salaryRe.FindStringSubmatch(strings.ReplaceAll(raw, ",", ""))
	if m == nil {
		return nil, false
	}
	value, unit := m[1], m[2]
	if m[3] != "" {
		value = m[3]
		if m[4] != "" {
			unit = m[4]
		}
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil || f <= 0 {
		return nil, false
	}
	if unit == "円" || (unit == "" && f >= 10000) {
		f /= 10000
	}
	n := int(math.Round(f))
	return n, n > 0
}

var (
	affirmative = []string{"あり", "有り", "有", "保有", "所持", "取得済", "はい", "○", "〇"}
	negative    = []string{"なし", "無し", "無", "未取得", "いいえ", "×"}
)

func license(raw string) (any, bool) {
	s := collapse(raw)
	for _, t := range negative {
		if strings.HasPrefix(s, t) {
			return false, true
		}
	}
	for _, t := range affirmative {
		if strings.HasPrefix(s, t) {
			return true, true
		}
	}
	return nil, false
}
