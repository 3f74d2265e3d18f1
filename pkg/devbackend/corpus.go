package devbackend

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed corpus.yaml
var defaultCorpus []byte

const edgarURL = "https://www.sec.gov/cgi-bin/browse-edgar?action=getcompany&CIK=%s&type=10-K"

// Corpus is the filing text the development backend answers from
type Corpus struct {
	Filings        []Filing          `yaml:"filings"`
	Companies      map[string]string `yaml:"companies"`
	DetailSections []string          `yaml:"detail_sections"`
}

// Filing is one company's 10-K excerpt
type Filing struct {
	Ticker      string    `yaml:"ticker"`
	CompanyName string    `yaml:"company_name"`
	CIK         string    `yaml:"cik"`
	Year        string    `yaml:"year"`
	Sections    []Section `yaml:"sections"`
}

// Section is one titled part of a filing
type Section struct {
	Header  string `yaml:"header"`
	Content string `yaml:"content"`
}

// SourceURL links to the company's 10-K listing on EDGAR
func (f Filing) SourceURL() string {
	return fmt.Sprintf(edgarURL, f.CIK)
}

// DefaultCorpus returns the built-in sample corpus
func DefaultCorpus() (*Corpus, error) {
	return ParseCorpus(defaultCorpus)
}

// ParseCorpus decodes a YAML corpus and normalizes tickers
func ParseCorpus(data []byte) (*Corpus, error) {
	var c Corpus
	if err := yaml.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse corpus: %w", err)
	}
	if len(c.Filings) == 0 {
		return nil, fmt.Errorf("corpus has no filings")
	}

	companies := make(map[string]string, len(c.Companies))
	for ticker, name := range c.Companies {
		companies[strings.ToUpper(ticker)] = name
	}
	c.Companies = companies

	for i := range c.Filings {
		f := &c.Filings[i]
		f.Ticker = strings.ToUpper(strings.TrimSpace(f.Ticker))
		if f.Ticker == "" {
			return nil, fmt.Errorf("filing %d has no ticker", i)
		}
		if _, ok := c.Companies[f.Ticker]; !ok && f.CompanyName != "" {
			c.Companies[f.Ticker] = f.CompanyName
		}
	}
	return &c, nil
}

// Tickers lists the tickers with filing data, in corpus order
func (c *Corpus) Tickers() []string {
	out := make([]string, len(c.Filings))
	for i, f := range c.Filings {
		out[i] = f.Ticker
	}
	return out
}

// Filing finds the filing for ticker
func (c *Corpus) Filing(ticker string) (Filing, bool) {
	for _, f := range c.Filings {
		if f.Ticker == ticker {
			return f, true
		}
	}
	return Filing{}, false
}

// CompanyName returns the company name for ticker, or the ticker itself
func (c *Corpus) CompanyName(ticker string) string {
	if name, ok := c.Companies[ticker]; ok {
		return name
	}
	return ticker
}
