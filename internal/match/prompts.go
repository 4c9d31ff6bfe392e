package match

import (
	"fmt"
	"strings"
)

const disambiguationSystemPrompt = `You match a free-text name against a list of candidate entity names from a product database.
Pick the single candidate that refers to the same real-world entity as the input name, accounting for spelling variants, abbreviations, and synonyms.
If no candidate is a confident match, select null. Never invent a name that is not in the candidate list.
Respond with JSON only: {"selected": "<candidate name>"} or {"selected": null}.`

func disambiguationUserPrompt(name string, candidates []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Name: %s\nCandidates:\n", name)
	for _, c := range candidates {
		fmt.Fprintf(&b, "- %s\n", c)
	}
	return b.String()
}

const searchTermsSystemPrompt = `You convert cosmetic and food ingredient declarations into database search terms.
For each input name, produce one or more normalized terms:
- split slash-separated synonyms ("AQUA / WATER" -> "AQUA", "WATER")
- split CI-number and pigment-name pairs ("CI 77491 (IRON OXIDES)" -> "CI 77491", "IRON OXIDES")
- split parenthetical synonyms ("TOCOPHEROL (VITAMIN E)" -> "TOCOPHEROL", "VITAMIN E")
- strip percentages and trailing qualifiers
Keep terms uppercase. Respond with JSON only: {"terms": {"<input name>": ["TERM", ...], ...}}.
Every input name must appear as a key, even if its only term is the name itself.`

func searchTermsUserPrompt(names []string) string {
	var b strings.Builder
	b.WriteString("Ingredient names:\n")
	for _, name := range names {
		fmt.Fprintf(&b, "- %s\n", name)
	}
	return b.String()
}
