// Package llm derives catalog metadata from script source using a large
// language model. The model is asked for a fixed set of "Key: value" lines;
// Parse turns its reply into a Metadata map.
package llm

import (
	"context"
	"fmt"
	"strings"
)

// Metadata field names, exactly as the model is asked to emit them.
const (
	FieldTitle       = "Title"
	FieldLanguage    = "Language"
	FieldTags        = "Tags"
	FieldDescription = "Description"
	FieldHowItWorks  = "How it works"
	FieldCategory    = "Category"
)

// Fields lists every metadata key in prompt order.
var Fields = []string{FieldTitle, FieldLanguage, FieldTags, FieldDescription, FieldHowItWorks, FieldCategory}

// Metadata maps field names to values. A missing key means the field is absent.
type Metadata map[string]string

// Missing returns the fields that are absent or blank, in prompt order.
func (m Metadata) Missing() []string {
	var out []string
	for _, f := range Fields {
		if strings.TrimSpace(m[f]) == "" {
			out = append(out, f)
		}
	}
	return out
}

// Complete reports whether every field has a value.
func (m Metadata) Complete() bool { return len(m.Missing()) == 0 }

// Extractor produces metadata for a script. formatHint is the file extension
// (for example ".py") or empty.
type Extractor interface {
	Extract(ctx context.Context, content, formatHint string) (Metadata, error)
}

// ExtractorFunc adapts a function to the Extractor interface.
type ExtractorFunc func(ctx context.Context, content, formatHint string) (Metadata, error)

// Extract calls f.
func (f ExtractorFunc) Extract(ctx context.Context, content, formatHint string) (Metadata, error) {
	return f(ctx, content, formatHint)
}

const promptTemplate = `Analyze the following %s script and provide the following metadata in the specified format:

Title: <Descriptive title>
Language: <Programming language>
Tags: <Comma-separated tags>
Description: <Detailed description of what the script does>
How it works: <Brief explanation of how the script works>
Category: <Category of the script (e.g., Image Processing, Web Scraper, Data Analyzer)>

Ensure that all fields are filled out completely and accurately.

Script:
%s`

// Prompt renders the extraction prompt for content.
func Prompt(content, formatHint string) string {
	return fmt.Sprintf(promptTemplate, formatHint, content)
}

// Parse reads "Key: value" lines. Keys match case-insensitively at the start
// of a line (after trimming and optional markdown emphasis). The first
// non-empty value wins; empty values count as absent.
func Parse(text string) Metadata {
	out := Metadata{}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimLeft(strings.TrimSpace(line), "-*# "))
		for _, f := range Fields {
			prefix := f + ":"
			if len(line) < len(prefix) || !strings.EqualFold(line[:len(prefix)], prefix) {
				continue
			}
			// Trim "**Title:** value" emphasis left over after the prefix.
			v := strings.TrimSpace(strings.Trim(strings.TrimSpace(line[len(prefix):]), "*"))
			if v == "" {
				break
			}
			if _, seen := out[f]; !seen {
				out[f] = v
			}
			break
		}
	}
	return out
}
