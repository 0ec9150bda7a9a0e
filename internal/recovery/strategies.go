package recovery

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

var (
	codeFencePattern      = regexp.MustCompile("```(?:json)?\\s*([\\s\\S]*?)\\s*```")
	lineCommentPattern    = regexp.MustCompile(`(?m)//.*$`)
	blockCommentPattern   = regexp.MustCompile(`(?s)/\*.*?\*/`)
	trailingCommaPattern  = regexp.MustCompile(`,\s*([}\]])`)
	collectionNamePattern = regexp.MustCompile(`"collection_name"\s*:\s*"([^"]+)"`)
	decisionsPattern      = regexp.MustCompile(`"decisions"\s*:\s*(\[[\s\S]*?\])`)
	decisionObjectPattern = regexp.MustCompile(`\{\s*"movie_id"\s*:\s*\d+[^}]+\}`)
	bareKeyPattern        = regexp.MustCompile(`([{,]\s*)([A-Za-z_]\w*)\s*:`)
)

// decodeObject succeeds only for a JSON object carrying both required keys,
// so an unrelated object never shadows a later strategy.
func decodeObject(text string) (Response, error) {
	var resp Response
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") {
		return resp, errors.New("not a JSON object")
	}
	if err := json.Unmarshal([]byte(trimmed), &resp); err != nil {
		return resp, err
	}
	return resp, resp.Validate()
}

// parseWhole treats the entire text as JSON.
func parseWhole(text string) (Response, error) {
	return decodeObject(text)
}

// parseCodeFence parses the first fenced code block.
func parseCodeFence(text string) (Response, error) {
	match := codeFencePattern.FindStringSubmatch(text)
	if match == nil {
		return Response{}, ErrNoMatch
	}
	return decodeObject(match[1])
}

// parseLastObject parses the last top-level brace-balanced region, retrying
// once with comments and trailing commas stripped.
func parseLastObject(text string) (Response, error) {
	region, ok := lastTopLevelObject(text)
	if !ok {
		return Response{}, ErrNoMatch
	}
	resp, err := decodeObject(region)
	if err == nil {
		return resp, nil
	}
	cleaned := lineCommentPattern.ReplaceAllString(region, "")
	cleaned = blockCommentPattern.ReplaceAllString(cleaned, "")
	cleaned = trailingCommaPattern.ReplaceAllString(cleaned, "$1")
	return decodeObject(cleaned)
}

// parseDecisionsArray pulls out the collection name and decisions array
// independently of any surrounding structure.
func parseDecisionsArray(text string) (Response, error) {
	name := collectionNamePattern.FindStringSubmatch(text)
	array := decisionsPattern.FindStringSubmatch(text)
	if name == nil || array == nil {
		return Response{}, ErrNoMatch
	}
	repaired := trailingCommaPattern.ReplaceAllString(array[1], "$1")
	var decisions []Decision
	if err := json.Unmarshal([]byte(repaired), &decisions); err != nil {
		return Response{}, err
	}
	return NewResponse(name[1], decisions), nil
}

// parseDecisionObjects salvages individual decision objects, quoting bare
// keys and skipping any object that still fails to decode.
func parseDecisionObjects(text string) (Response, error) {
	objects := decisionObjectPattern.FindAllString(text, -1)
	if len(objects) == 0 {
		return Response{}, ErrNoMatch
	}
	decisions := make([]Decision, 0, len(objects))
	for _, obj := range objects {
		fixed := bareKeyPattern.ReplaceAllString(obj, `$1"$2":`)
		fixed = trailingCommaPattern.ReplaceAllString(fixed, "$1")
		var d Decision
		if err := json.Unmarshal([]byte(fixed), &d); err != nil {
			continue
		}
		decisions = append(decisions, d)
	}
	if len(decisions) == 0 {
		return Response{}, errors.New("no decision object could be decoded")
	}
	name := UnknownCollection
	if match := collectionNamePattern.FindStringSubmatch(text); match != nil {
		name = match[1]
	}
	return NewResponse(name, decisions), nil
}

// lastTopLevelObject returns the last brace-balanced {...} region that is not
// nested inside another one. Braces inside JSON strings are ignored.
func lastTopLevelObject(text string) (string, bool) {
	start, depth := -1, 0
	inString, escaped := false, false
	var last string
	found := false
	for i := 0; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			if depth > 0 {
				inString = true
			}
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth == 0 {
				continue
			}
			depth--
			if depth == 0 {
				last = text[start : i+1]
				found = true
			}
		}
	}
	return last, found
}
