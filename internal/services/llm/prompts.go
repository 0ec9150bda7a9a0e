package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"kometaai/internal/catalog"
)

// SystemPrompt frames every batch classification call.
const SystemPrompt = `You are a film expert tasked with categorizing movies for a media server. Your job is to determine which movies belong in a specific collection based on the provided criteria.

Guidelines:
1. Focus ONLY on the specific collection definition and criteria provided
2. Consider all relevant movie attributes (title, year, genres, plot, studio, etc.)
3. Apply the collection criteria consistently across all movies
4. Provide a confidence score (0.0-1.0) for each decision
5. Include reasoning ONLY for borderline cases (confidence between 0.4-0.8)
6. Return answers in valid JSON format only
7. Do not consider personal preferences or subjective quality judgments

When evaluating movies:
- Be objective and follow the criteria exactly
- Do not artificially limit the number of movies in a collection
- For movies with little information, use your knowledge about films to supplement the data
- Evaluate the movie's actual content and themes, not just what is mentioned in the overview
- Consider the movie's primary themes and genres, not incidental elements

For collections based on themes or genres, decide whether the movie is primarily about that theme, not whether it contains elements of it. A movie with one heist scene is not a heist movie.

Your response must follow this exact JSON format:
{
  "collection_name": "Name of the collection",
  "decisions": [
    {
      "movie_id": 123,
      "title": "Movie Title",
      "include": true,
      "confidence": 0.95,
      "reasoning": "Optional explanation for borderline cases"
    }
  ]
}

Return valid JSON only. Do not include markdown formatting or explanatory text outside the JSON structure.`

// RefinementSystemPrompt frames single-item refinement calls.
const RefinementSystemPrompt = `You are a film expert performing a detailed analysis of a single movie to decide whether it belongs in a collection. Earlier classification was borderline, so examine the movie's primary themes, tone and genre carefully before deciding.

Your response must follow this exact JSON format:
{
  "movie_title": "Movie Title",
  "collection_name": "Name of the collection",
  "detailed_analysis": "Several sentences weighing the movie against the criteria",
  "include": true,
  "confidence": 0.85,
  "reasoning": "One sentence summary of the decision"
}

Return valid JSON only.`

// CollectionPrompt formats the per-collection instructions.
func CollectionPrompt(name, criteria string, threshold float64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "I need you to categorize movies for the %q collection.\n\n", name)
	b.WriteString("COLLECTION DEFINITION AND CRITERIA:\n")
	b.WriteString(strings.TrimSpace(criteria))
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "For each movie in the provided list, evaluate whether it belongs in the %s collection based on these criteria. ", name)
	b.WriteString("Provide your decision and a confidence level (0.0-1.0) for each movie.\n\n")
	fmt.Fprintf(&b, "The minimum confidence threshold for inclusion is %.2f. Movies below this threshold will not be included, ", threshold)
	b.WriteString("so do not underestimate your confidence if you believe a movie belongs.\n\n")
	b.WriteString("Only include movies that strongly match the collection's theme. A movie that contains minor elements related to the theme should not be included.\n\n")
	b.WriteString("Return your evaluation in the required JSON format ONLY.")
	return b.String()
}

// BatchPrompt builds the user message for a batch classification call.
func BatchPrompt(name, criteria string, threshold float64, items []catalog.Summary) (string, error) {
	data, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode item summaries: %w", err)
	}
	var b strings.Builder
	b.WriteString(CollectionPrompt(name, criteria, threshold))
	b.WriteString("\n\nMOVIES TO EVALUATE:\n")
	b.Write(data)
	b.WriteString("\n\nIMPORTANT: Respond ONLY with a valid JSON object containing 'collection_name' and 'decisions' fields.")
	return b.String(), nil
}

// RefinementPrompt builds the user message for a single-item refinement.
func RefinementPrompt(req RefineRequest) (string, error) {
	data, err := json.MarshalIndent(req.Item, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode item summary: %w", err)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Analyze whether %q (%d) belongs in the %q collection.\n\n", req.Item.Title, req.Item.Year, req.CollectionName)
	b.WriteString("COLLECTION DEFINITION AND CRITERIA:\n")
	b.WriteString(strings.TrimSpace(req.Criteria))
	b.WriteString("\n\nMOVIE DETAILS:\n")
	b.Write(data)
	if len(req.Item.Genres) > 0 {
		fmt.Fprintf(&b, "\n\nGenres: %s", strings.Join(req.Item.Genres, ", "))
	}
	if overview := strings.TrimSpace(req.Item.Overview); overview != "" {
		fmt.Fprintf(&b, "\nOverview: %s", overview)
	}
	fmt.Fprintf(&b, "\n\nThis is a borderline case: the initial classification gave include=%t with confidence %.2f against a threshold of %.2f. ",
		req.Prior.Include, req.Prior.Confidence, req.Threshold)
	b.WriteString("Identify the movie's primary themes and decide whether they match the collection, then respond in the required JSON format.")
	return b.String(), nil
}
