// Package parser extracts a scaling-factor map from free-form oracle text.
//
// The oracle is asked to finish its answer with a brace-delimited block such as
//
//	{"Throughput_Mbps": {"TxPower": 1.2, "PRB_num": 2*0.5}}
//
// but nothing guarantees it does, so every brace-bearing line (or multi-line
// block) is a candidate, scanned from the end of the text backwards. Each
// candidate goes through ordered normalization passes and the first one that
// decodes wins.
package parser

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/danielpatrickdp/importance-shift/internal/attribution"
	"github.com/danielpatrickdp/importance-shift/internal/parser/expr"
)

// #region types
// Stage names the pass at which a candidate was rejected. Key quoting,
// trailing-comma stripping and line-break collapsing always succeed.
type Stage string

const (
	StageExpressions Stage = "evaluate_expressions"
	StageDecode      Stage = "decode"
	StageSelect      Stage = "select_metric"
)

// Attempt records why one candidate was rejected.
type Attempt struct {
	Line  int // 1-based line on which the candidate ends
	Text  string
	Stage Stage
	Err   error
}

// Result is the outcome of a successful parse.
type Result struct {
	Metric   string
	Scaling  attribution.ScalingMap
	Line     int
	Block    string    // normalized JSON that decoded
	Rejected []Attempt // candidates after this one in the text that failed
}

// #endregion types

// #region parse
// Parse returns the target metric and scaling map from the last decodable block
// in text. The block must name exactly one metric.
func Parse(text string) (Result, error) {
	return ParseFor(text, "")
}

// ParseFor is Parse restricted to blocks that contain metric. An empty metric
// accepts any single-metric block.
func ParseFor(text, metric string) (Result, error) {
	if strings.TrimSpace(text) == "" {
		return Result{}, fmt.Errorf("%w: empty oracle response", attribution.ErrParse)
	}

	var rejected []Attempt
	for _, c := range candidates(text) {
		block, stage, err := normalize(c.text)
		if err == nil {
			var res Result
			res, stage, err = decode(block, metric)
			if err == nil {
				res.Line = c.line
				res.Rejected = rejected
				return res, nil
			}
		}
		rejected = append(rejected, Attempt{Line: c.line, Text: c.text, Stage: stage, Err: err})
	}

	if len(rejected) == 0 {
		return Result{}, fmt.Errorf("%w: no brace-delimited block found", attribution.ErrParse)
	}
	last := rejected[len(rejected)-1]
	return Result{Rejected: rejected}, fmt.Errorf("%w: %d candidate block(s) rejected, earliest at line %d failed %s: %v",
		attribution.ErrParse, len(rejected), last.Line, last.Stage, last.Err)
}

// #endregion parse

// #region candidates
type candidate struct {
	line int
	text string
}

// candidates lists brace-bearing spans from the end of text backwards. A line
// with both braces is a candidate on its own; a line that only closes a brace
// starts a multi-line candidate reaching back to its balancing opener.
func candidates(text string) []candidate {
	lines := strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n")
	var out []candidate
	for i := len(lines) - 1; i >= 0; i-- {
		line := lines[i]
		hasOpen := strings.Contains(line, "{")
		hasClose := strings.Contains(line, "}")
		switch {
		case hasOpen && hasClose:
			if span := braceSpan(line); span != "" {
				out = append(out, candidate{line: i + 1, text: span})
			}
		case hasClose:
			if span := multiLineSpan(lines, i); span != "" {
				out = append(out, candidate{line: i + 1, text: span})
			}
		}
	}
	return out
}

// braceSpan trims s to the range from its first '{' to its last '}'.
func braceSpan(s string) string {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}

func multiLineSpan(lines []string, end int) string {
	depth := 0
	for j := end; j >= 0; j-- {
		depth += strings.Count(lines[j], "}") - strings.Count(lines[j], "{")
		if depth <= 0 && strings.Contains(lines[j], "{") {
			return braceSpan(strings.Join(lines[j:end+1], "\n"))
		}
	}
	return ""
}

// #endregion candidates

// #region passes
var (
	trailingComma = regexp.MustCompile(`,\s*([}\]])`)
	lineBreaks    = regexp.MustCompile(`\s*[\r\n]+\s*`)
	jsonNumber    = regexp.MustCompile(`^-?(0|[1-9][0-9]*)(\.[0-9]+)?([eE][+-]?[0-9]+)?$`)
)

// normalize runs the passes in order and reports the stage that failed.
func normalize(s string) (string, Stage, error) {
	s = quoteKeys(s)
	s = trailingComma.ReplaceAllString(s, "$1")
	s = lineBreaks.ReplaceAllString(s, " ")
	out, err := evaluateExpressions(s)
	if err != nil {
		return "", StageExpressions, err
	}
	return out, "", nil
}

// quoteKeys turns single quotes into double quotes and wraps bare identifier
// keys ("TxPower: 1.2") in quotes. String contents are left alone.
func quoteKeys(s string) string {
	s = strings.ReplaceAll(s, "'", `"`)
	var b strings.Builder
	b.Grow(len(s) + 16)
	inStr := false
	for i := 0; i < len(s); {
		c := s[i]
		if inStr {
			b.WriteByte(c)
			if c == '\\' && i+1 < len(s) {
				b.WriteByte(s[i+1])
				i += 2
				continue
			}
			if c == '"' {
				inStr = false
			}
			i++
			continue
		}
		switch {
		case c == '"':
			inStr = true
			b.WriteByte(c)
			i++
		case isDigit(c):
			j := i
			for j < len(s) && (isIdentChar(s[j]) || s[j] == '.') {
				j++
			}
			b.WriteString(s[i:j])
			i = j
		case isIdentStart(c):
			j := i
			for j < len(s) && (isIdentChar(s[j]) || s[j] == '.') {
				j++
			}
			k := j
			for k < len(s) && (s[k] == ' ' || s[k] == '\t') {
				k++
			}
			if k < len(s) && s[k] == ':' {
				b.WriteString(`"` + s[i:j] + `"`)
			} else {
				b.WriteString(s[i:j])
			}
			i = j
		default:
			b.WriteByte(c)
			i++
		}
	}
	return b.String()
}

// evaluateExpressions replaces every non-literal scalar value with the number
// it evaluates to. Nested objects, arrays and strings are not values here.
func evaluateExpressions(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s))
	inStr := false
	for i := 0; i < len(s); {
		c := s[i]
		if inStr {
			b.WriteByte(c)
			if c == '\\' && i+1 < len(s) {
				b.WriteByte(s[i+1])
				i += 2
				continue
			}
			if c == '"' {
				inStr = false
			}
			i++
			continue
		}
		if c == '"' {
			inStr = true
			b.WriteByte(c)
			i++
			continue
		}
		if c != ':' {
			b.WriteByte(c)
			i++
			continue
		}

		b.WriteByte(':')
		i++
		for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
			i++
		}
		if i < len(s) && strings.IndexByte(`{["`, s[i]) >= 0 {
			b.WriteByte(' ')
			continue
		}
		end := valueEnd(s, i)
		raw := strings.TrimSpace(s[i:end])
		val, err := literalOrEval(raw)
		if err != nil {
			return "", err
		}
		b.WriteString(" " + val)
		i = end
	}
	return b.String(), nil
}

// valueEnd returns the index of the ',' '}' or ']' that ends the value starting
// at i, ignoring separators nested inside parentheses.
func valueEnd(s string, i int) int {
	depth := 0
	for ; i < len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		case ',', '}', ']':
			if depth <= 0 {
				return i
			}
		}
	}
	return i
}

func literalOrEval(raw string) (string, error) {
	switch {
	case raw == "":
		return "", fmt.Errorf("empty value")
	case jsonNumber.MatchString(raw), raw == "true", raw == "false", raw == "null":
		return raw, nil
	}
	v, err := expr.Eval(raw)
	if err != nil {
		return "", fmt.Errorf("value %q: %w", raw, err)
	}
	return strconv.FormatFloat(attribution.Round6(v), 'f', -1, 64), nil
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }
func isIdentChar(c byte) bool  { return isIdentStart(c) || isDigit(c) }

// #endregion passes

// #region decode
func decode(block, metric string) (Result, Stage, error) {
	var parsed map[string]map[string]float64
	if err := json.Unmarshal([]byte(block), &parsed); err != nil {
		return Result{}, StageDecode, err
	}

	if metric == "" {
		if len(parsed) != 1 {
			return Result{}, StageSelect, fmt.Errorf("block names %d metrics %v, want exactly one", len(parsed), metricNames(parsed))
		}
		for m := range parsed {
			metric = m
		}
	}
	factors, ok := parsed[metric]
	if !ok {
		return Result{}, StageSelect, fmt.Errorf("metric %q not in block (has %v)", metric, metricNames(parsed))
	}

	scaling := make(attribution.ScalingMap, len(factors))
	for f, b := range factors {
		scaling[f] = b
	}
	return Result{Metric: metric, Scaling: scaling, Block: block}, "", nil
}

func metricNames(m map[string]map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// #endregion decode
