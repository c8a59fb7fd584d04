package cluster

import (
	"context"
	"fmt"
	"math"
	"strings"

	"github.com/jmagar/core-sub000/domain"
	"github.com/jmagar/core-sub000/engine/llm"
)

type namingVerdict struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// nameClusters computes cluster-level TF-IDF over every user cluster's
// top-10 subject/predicate/object terms, then asks C2 (high complexity)
// to name each cluster still flagged needsNaming (spec §4.9 "TF-IDF
// naming").
func (e *Engine) nameClusters(ctx context.Context, userID string) (domain.TokenUsage, error) {
	all, err := e.store.GetClustersForUser(ctx, userID)
	if err != nil {
		return domain.TokenUsage{}, fmt.Errorf("cluster: list for naming: %w", err)
	}

	df := documentFrequency(all)
	nClusters := float64(len(all))

	var usage domain.TokenUsage
	for _, c := range all {
		if !c.NeedsNaming {
			continue
		}

		subjects := distinctiveTerms(c.TopSubjects, c.Size, df, nClusters)
		predicates := distinctiveTerms(c.TopPredicates, c.Size, df, nClusters)
		objects := distinctiveTerms(c.TopObjects, c.Size, df, nClusters)

		name, desc, genUsage, err := e.generateName(ctx, c.UUID, subjects, predicates, objects)
		if err != nil {
			return usage, err
		}
		usage.Add(genUsage)

		c.Name = name
		c.Description = desc
		c.NeedsNaming = false
		c.UpdatedAt = nowFunc()
		if err := e.store.SaveCluster(ctx, c); err != nil {
			return usage, fmt.Errorf("cluster: save named %s: %w", c.UUID, err)
		}
	}
	return usage, nil
}

// documentFrequency counts, for every term appearing in any cluster's
// top-10 lists, how many distinct clusters contain it.
func documentFrequency(clusters []domain.Cluster) map[string]int {
	df := make(map[string]int)
	for _, c := range clusters {
		seen := make(map[string]bool)
		for _, term := range allTerms(c) {
			if seen[term] {
				continue
			}
			seen[term] = true
			df[term]++
		}
	}
	return df
}

func allTerms(c domain.Cluster) []string {
	terms := make([]string, 0, len(c.TopSubjects)+len(c.TopPredicates)+len(c.TopObjects))
	terms = append(terms, c.TopSubjects...)
	terms = append(terms, c.TopPredicates...)
	terms = append(terms, c.TopObjects...)
	return terms
}

// distinctiveTerms scores each term's TF×IDF within one cluster (TF
// normalized by cluster size, IDF = log(N/DF)) and returns the top 10,
// highest score first.
func distinctiveTerms(terms []string, clusterSize int, df map[string]int, nClusters float64) []string {
	if clusterSize == 0 {
		clusterSize = 1
	}
	counts := make(map[string]int)
	for _, t := range terms {
		counts[strings.ToLower(t)]++
	}

	scores := make(map[string]float64, len(counts))
	for term, count := range counts {
		tf := float64(count) / float64(clusterSize)
		idf := math.Log(nClusters / float64(maxInt(df[term], 1)))
		scores[term] = tf * idf
	}

	type kv struct {
		term  string
		score float64
	}
	ranked := make([]kv, 0, len(scores))
	for t, s := range scores {
		ranked = append(ranked, kv{t, s})
	}
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && ranked[j].score > ranked[j-1].score; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}
	if len(ranked) > 10 {
		ranked = ranked[:10]
	}
	out := make([]string, len(ranked))
	for i, r := range ranked {
		out[i] = r.term
	}
	return out
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (e *Engine) generateName(ctx context.Context, clusterUUID string, subjects, predicates, objects []string) (name, description string, usage domain.TokenUsage, err error) {
	genRes, err := e.gen.Generate(ctx, llm.GenerateOpts{
		Complexity: llm.ComplexityHigh,
		System:     namingSystemPrompt,
		Prompt:     buildNamingPrompt(subjects, predicates, objects),
	})
	if err != nil {
		return "", "", usage, fmt.Errorf("cluster: generate name: %w", err)
	}
	usage.Add(genRes.Usage)

	var verdict namingVerdict
	if err := llm.ParseEnvelopeJSON(genRes.Text, &verdict); err != nil || verdict.Name == "" {
		return fallbackName(clusterUUID), "", usage, nil
	}
	return verdict.Name, verdict.Description, usage, nil
}

// fallbackName implements spec §4.9's parse-failure rule verbatim: name
// the cluster after its own uuid prefix rather than leaving it unnamed.
func fallbackName(clusterUUID string) string {
	id := clusterUUID
	if len(id) > 8 {
		id = id[:8]
	}
	return "Cluster " + id
}

const namingSystemPrompt = `You name a cluster of related facts from a knowledge graph given its most distinctive subjects, predicates, and objects (ranked by TF-IDF). Produce a short, human-readable name (2-5 words) and a one-sentence description of what the cluster is about. Respond only with the requested <output> JSON object.`

func buildNamingPrompt(subjects, predicates, objects []string) string {
	var b strings.Builder
	b.WriteString("Distinctive subjects: ")
	b.WriteString(strings.Join(subjects, ", "))
	b.WriteString("\nDistinctive predicates: ")
	b.WriteString(strings.Join(predicates, ", "))
	b.WriteString("\nDistinctive objects: ")
	b.WriteString(strings.Join(objects, ", "))
	b.WriteString("\n\nRespond with <output>{\"name\": \"<short name>\", \"description\": \"<one sentence>\"}</output>\n")
	return b.String()
}
