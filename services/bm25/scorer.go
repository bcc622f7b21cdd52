package bm25

import "strings"

// Simplified BM25 constants. No global IDF is maintained: avgdl is a fixed
// corpus-independent constant, and the LLM keyword boost stands in for the
// missing term-importance signal.
const (
	K1           = 1.2
	B            = 0.75
	AvgDocLength = 1000.0
	KeywordBoost = 1.5
)

// BuildDocIndex aggregates term frequencies over all chunk texts of a
// document. The result is persisted once per document as bm25_doc_index.json.
func BuildDocIndex(chunkTexts []string) map[string]int {
	freqs := make(map[string]int)
	for _, text := range chunkTexts {
		for _, term := range Tokenize(text) {
			freqs[term]++
		}
	}
	return freqs
}

// Score computes the document-level simplified BM25 score for a tokenized
// query against one document's term-frequency map.
//
// Per query term t present in the document:
//
//	contrib(t) = tf(t) * (k1 + 1) / (tf(t) + k1 * (1 - b + b * doclen/avgdl))
//
// The final score is multiplied by 1.5 for each document keyword that
// contains a query term, but only when the base score is positive.
func Score(queryTerms []string, termFreqs map[string]int, docLength int, keywords []string) float64 {
	if len(queryTerms) == 0 || len(termFreqs) == 0 {
		return 0
	}

	lengthNorm := K1 * (1 - B + B*float64(docLength)/AvgDocLength)

	var score float64
	for _, term := range queryTerms {
		tf := float64(termFreqs[term])
		if tf == 0 {
			continue
		}
		score += tf * (K1 + 1) / (tf + lengthNorm)
	}

	if score <= 0 {
		return 0
	}

	return score * keywordBoostMultiplier(queryTerms, keywords)
}

// keywordBoostMultiplier returns 1.5^m where m is the number of keywords
// containing at least one query term as a case-insensitive substring.
func keywordBoostMultiplier(queryTerms []string, keywords []string) float64 {
	multiplier := 1.0
	for _, kw := range keywords {
		lower := strings.ToLower(kw)
		for _, term := range queryTerms {
			if strings.Contains(lower, term) {
				multiplier *= KeywordBoost
				break
			}
		}
	}
	return multiplier
}
