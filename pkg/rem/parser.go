// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package rem

import (
	"fmt"
	"strconv"
	"strings"
)

// The textual REM dialect is first-token-dispatched, then argument-bound
// with shell-like quoting. Positional tokens fill the mode's primary field;
// k=v tokens bind named parameters with type coercion. The parser never
// executes; it returns a typed Query.

// paramAliases normalizes alternate spellings to canonical parameter names.
var paramAliases = map[string]string{
	"table_name": "table",
	"max_depth":  "depth",
	"edge_types": "rel_type",
}

// token is one shell-style word. hadUnquotedEq records whether an '='
// appeared outside quotes, which is what distinguishes a k=v binding from
// positional text that merely contains an equals sign.
type token struct {
	text         string
	eqIndex      int // index of first unquoted '=', or -1
	startedQuote bool
}

// Parse converts dialect text into a typed query object.
func Parse(input string) (Query, error) {
	tokens, err := tokenize(input)
	if err != nil {
		return nil, err
	}
	if len(tokens) == 0 {
		return nil, NewValidationError("empty query")
	}

	mode := Mode(strings.ToUpper(tokens[0].text))
	args := tokens[1:]

	positional, named, err := bindArgs(args)
	if err != nil {
		return nil, err
	}

	switch mode {
	case ModeLookup:
		return parseLookup(positional, named)
	case ModeFuzzy:
		return parseFuzzy(positional, named)
	case ModeSearch:
		return parseSearch(positional, named)
	case ModeSQL:
		return parseSQL(positional, named)
	case ModeTraverse:
		return parseTraverse(positional, named)
	default:
		return nil, NewValidationError("unknown query mode %q", tokens[0].text)
	}
}

// tokenize splits input with shell-like quoting: single and double quotes
// group words, backslash escapes the next character outside single quotes.
func tokenize(input string) ([]token, error) {
	var tokens []token
	var cur strings.Builder
	var inSingle, inDouble, started, startedQuote bool
	eqIndex := -1

	flush := func() {
		if started {
			tokens = append(tokens, token{text: cur.String(), eqIndex: eqIndex, startedQuote: startedQuote})
			cur.Reset()
			started = false
			startedQuote = false
			eqIndex = -1
		}
	}

	runes := []rune(input)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch {
		case c == '\\' && !inSingle && i+1 < len(runes):
			i++
			cur.WriteRune(runes[i])
			started = true
		case c == '\'' && !inDouble:
			inSingle = !inSingle
			if !started {
				startedQuote = true
			}
			started = true
		case c == '"' && !inSingle:
			inDouble = !inDouble
			if !started {
				startedQuote = true
			}
			started = true
		case (c == ' ' || c == '\t' || c == '\n') && !inSingle && !inDouble:
			flush()
		default:
			if c == '=' && !inSingle && !inDouble && eqIndex < 0 {
				eqIndex = cur.Len()
			}
			cur.WriteRune(c)
			started = true
		}
	}
	if inSingle || inDouble {
		return nil, NewValidationError("unterminated quote")
	}
	flush()
	return tokens, nil
}

// bindArgs separates positional tokens from k=v bindings and normalizes
// parameter names through the alias table.
func bindArgs(args []token) (positional []string, named map[string]string, err error) {
	named = make(map[string]string)
	for _, t := range args {
		if t.eqIndex <= 0 || t.startedQuote {
			positional = append(positional, t.text)
			continue
		}
		key := strings.ToLower(t.text[:t.eqIndex])
		val := t.text[t.eqIndex+1:]
		if canonical, ok := paramAliases[key]; ok {
			key = canonical
		}
		if _, dup := named[key]; dup {
			return nil, nil, NewValidationError("duplicate parameter %q", key)
		}
		named[key] = val
	}
	return positional, named, nil
}

func rejectUnknown(named map[string]string, allowed ...string) error {
	for key := range named {
		ok := false
		for _, a := range allowed {
			if key == a {
				ok = true
				break
			}
		}
		if !ok {
			return NewValidationError("unknown parameter %q", key)
		}
	}
	return nil
}

func floatParam(named map[string]string, key string, def float64) (float64, error) {
	raw, ok := named[key]
	if !ok {
		return def, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return 0, NewValidationError("parameter %q expects a float, got %q", key, raw)
	}
	return v, nil
}

func intParam(named map[string]string, key string, def int) (int, error) {
	raw, ok := named[key]
	if !ok {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, NewValidationError("parameter %q expects an int, got %q", key, raw)
	}
	return v, nil
}

func listParam(named map[string]string, key string) []string {
	raw, ok := named[key]
	if !ok || raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func parseLookup(positional []string, named map[string]string) (Query, error) {
	if err := rejectUnknown(named); err != nil {
		return nil, err
	}
	var keys []string
	for _, p := range positional {
		for _, k := range strings.Split(p, ",") {
			if k = strings.TrimSpace(k); k != "" {
				keys = append(keys, k)
			}
		}
	}
	if len(keys) == 0 {
		return nil, NewValidationError("LOOKUP requires at least one key")
	}
	return LookupQuery{Keys: keys}, nil
}

func parseFuzzy(positional []string, named map[string]string) (Query, error) {
	if err := rejectUnknown(named, "threshold", "limit"); err != nil {
		return nil, err
	}
	if len(positional) == 0 {
		return nil, NewValidationError("FUZZY requires query text")
	}
	threshold, err := floatParam(named, "threshold", DefaultFuzzyThreshold)
	if err != nil {
		return nil, err
	}
	if threshold < 0 || threshold > 1 {
		return nil, NewValidationError("threshold must be in [0,1], got %v", threshold)
	}
	limit, err := intParam(named, "limit", DefaultFuzzyLimit)
	if err != nil {
		return nil, err
	}
	return FuzzyQuery{
		QueryText: strings.Join(positional, " "),
		Threshold: threshold,
		Limit:     limit,
	}, nil
}

func parseSearch(positional []string, named map[string]string) (Query, error) {
	if err := rejectUnknown(named, "table", "field", "limit", "min_similarity", "provider"); err != nil {
		return nil, err
	}
	if len(positional) == 0 {
		return nil, NewValidationError("SEARCH requires query text")
	}
	table, ok := named["table"]
	if !ok {
		return nil, NewValidationError("SEARCH requires table=<name>")
	}
	minSim, err := floatParam(named, "min_similarity", DefaultMinSimilarity)
	if err != nil {
		return nil, err
	}
	limit, err := intParam(named, "limit", DefaultSearchLimit)
	if err != nil {
		return nil, err
	}
	return SearchQuery{
		QueryText:     strings.Join(positional, " "),
		Table:         table,
		Field:         named["field"],
		MinSimilarity: minSim,
		Limit:         limit,
		Provider:      named["provider"],
	}, nil
}

func parseSQL(positional []string, named map[string]string) (Query, error) {
	if err := rejectUnknown(named, "table", "where", "limit"); err != nil {
		return nil, err
	}
	if len(positional) > 0 {
		return nil, NewValidationError("SQL takes no positional arguments, got %q", positional[0])
	}
	table, ok := named["table"]
	if !ok {
		return nil, NewValidationError("SQL requires table=<name>")
	}
	where, ok := named["where"]
	if !ok || where == "" {
		return nil, NewValidationError("SQL requires where=\"<clause>\"")
	}
	limit, err := intParam(named, "limit", DefaultSQLLimit)
	if err != nil {
		return nil, err
	}
	return SQLQuery{Table: table, WhereClause: where, Limit: limit}, nil
}

func parseTraverse(positional []string, named map[string]string) (Query, error) {
	if err := rejectUnknown(named, "rel_type", "depth"); err != nil {
		return nil, err
	}
	if len(positional) != 1 {
		return nil, NewValidationError("TRAVERSE requires exactly one start key")
	}
	depth, err := intParam(named, "depth", DefaultTraverseDepth)
	if err != nil {
		return nil, err
	}
	if depth < 0 {
		return nil, NewValidationError("depth must be >= 0, got %d", depth)
	}
	q := TraverseQuery{
		InitialQuery: positional[0],
		EdgeTypes:    listParam(named, "rel_type"),
		MaxDepth:     depth,
	}
	if q.WantsAllEdgeTypes() {
		q.EdgeTypes = nil
	}
	return q, nil
}

// Format renders a query in canonical dialect text. Format and Parse are
// inverse up to canonicalization: Parse(Format(q)) yields q again.
func Format(q Query) string {
	switch v := q.(type) {
	case LookupQuery:
		return fmt.Sprintf("LOOKUP %s", strings.Join(v.Keys, ","))
	case FuzzyQuery:
		return fmt.Sprintf("FUZZY %s threshold=%s limit=%d",
			quoteArg(v.QueryText), formatFloat(v.Threshold), v.Limit)
	case SearchQuery:
		var b strings.Builder
		fmt.Fprintf(&b, "SEARCH %s table=%s", quoteArg(v.QueryText), v.Table)
		if v.Field != "" {
			fmt.Fprintf(&b, " field=%s", v.Field)
		}
		fmt.Fprintf(&b, " min_similarity=%s limit=%d", formatFloat(v.MinSimilarity), v.Limit)
		if v.Provider != "" {
			fmt.Fprintf(&b, " provider=%s", v.Provider)
		}
		return b.String()
	case SQLQuery:
		return fmt.Sprintf("SQL table=%s where=%s limit=%d",
			v.Table, quoteAlways(v.WhereClause), v.Limit)
	case TraverseQuery:
		var b strings.Builder
		fmt.Fprintf(&b, "TRAVERSE %s", v.InitialQuery)
		if !v.WantsAllEdgeTypes() {
			fmt.Fprintf(&b, " rel_type=%s", strings.Join(v.EdgeTypes, ","))
		}
		fmt.Fprintf(&b, " depth=%d", v.MaxDepth)
		return b.String()
	default:
		return ""
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'g', -1, 64)
}

// quoteArg quotes positional text when it contains whitespace, quotes, or
// an equals sign that would otherwise be read as a k=v binding.
func quoteArg(s string) string {
	if s == "" || strings.ContainsAny(s, " \t\n\"'=") {
		return quoteAlways(s)
	}
	return s
}

func quoteAlways(s string) string {
	escaped := strings.NewReplacer(`\`, `\\`, `"`, `\"`).Replace(s)
	return `"` + escaped + `"`
}
