// Package classify decides whether an inbound message is a candidate
// application and which lead source ("media") it came through.
package classify

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/candidate-intake/internal/model"
)

// MediaRule maps a sender domain to a media label.
type MediaRule struct {
	Domain string      `yaml:"domain"`
	Media  model.Media `yaml:"media"`
}

// Rules holds the vendor tables used by the filter and the classifier.
type Rules struct {
	// SubjectKeywords are vendor product/service names looked for in the
	// subject after width folding and lower-casing.
	SubjectKeywords []string `yaml:"subject_keywords"`
	// AllowedSenders holds exact addresses or bare domains.
	AllowedSenders []string `yaml:"allowed_senders"`
	// MediaDomains is checked in order; put specific vendor domains first.
	MediaDomains []MediaRule `yaml:"media_domains"`
	// RelayDomains are internal forwarding relays whose mail carries the
	// original sender in the body.
	RelayDomains []string `yaml:"relay_domains"`
	// ExcludedEmailDomains are never taken as the customer's address.
	ExcludedEmailDomains []string `yaml:"excluded_email_domains"`
}

// DefaultRules returns the built-in vendor tables.
func DefaultRules() Rules {
	return Rules{
		SubjectKeywords: []string{
			"SNAPJOB",
			"スナップジョブ",
			"ジョブシーカーナビ",
			"Jobseeker Navi",
			"キャリアインデックス",
			"新規応募",
			"応募がありました",
			"エントリーがありました",
		},
		AllowedSenders: []string{
			"snapjob@roxx.co.jp",
			"roxx.co.jp",
			"jobseeker-navi.com",
			"careerindex.jp",
		},
		MediaDomains: []MediaRule{
			{Domain: "roxx.co.jp", Media: model.MediaSnapJob},
			{Domain: "jobseeker-navi.com", Media: model.MediaJobseekerNavi},
			{Domain: "careerindex.jp", Media: model.MediaCareerIndex},
		},
		RelayDomains: []string{"relay.example.com"},
		ExcludedEmailDomains: []string{
			"roxx.co.jp",
			"jobseeker-navi.com",
			"careerindex.jp",
			"relay.example.com",
		},
	}
}

// LoadRules reads rule overrides from a YAML file. Tables present in the
// file replace the built-in ones; omitted tables keep their defaults.
func LoadRules(path string) (Rules, error) {
	rules := DefaultRules()
	if path == "" {
		return rules, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return rules, eris.Wrapf(err, "classify: read rules %s", path)
	}

	// The YAML has a top-level "rules" key
	var wrapper struct {
		Rules Rules `yaml:"rules"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return rules, eris.Wrap(err, "classify: parse rules")
	}

	o := wrapper.Rules
	if len(o.SubjectKeywords) > 0 {
		rules.SubjectKeywords = o.SubjectKeywords
	}
	if len(o.AllowedSenders) > 0 {
		rules.AllowedSenders = o.AllowedSenders
	}
	if len(o.MediaDomains) > 0 {
		for i, mr := range o.MediaDomains {
			if mr.Domain == "" || mr.Media == "" {
				return rules, eris.Errorf("classify: media_domains[%d] needs domain and media", i)
			}
		}
		rules.MediaDomains = o.MediaDomains
	}
	if len(o.RelayDomains) > 0 {
		rules.RelayDomains = o.RelayDomains
	}
	if len(o.ExcludedEmailDomains) > 0 {
		rules.ExcludedEmailDomains = o.ExcludedEmailDomains
	}
	return rules, nil
}
