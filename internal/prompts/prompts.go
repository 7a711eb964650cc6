// Package prompts holds the system and user prompt templates for every
// model call in the pipeline. The templates are bound to the rest of the
// system only through their output anchors, which the parse package keys
// on; wording can evolve freely as long as the anchors stay stable.
package prompts

import (
	"fmt"
	"strings"
)

// Pair is one prompt: a system message and a user message.
type Pair struct {
	System string
	User   string
}

func languageInstruction(language string) string {
	if language == "" || language == "en" {
		return ""
	}
	return fmt.Sprintf("\nCRITICAL - LANGUAGE: Respond in %s.\n", language)
}

const overviewSystem = `You are a research strategist starting a new deep-research session.

Given the user's research question, produce a short session title and a set
of 4-6 diverse search queries that map the topic's landscape.

Queries must be plain search terms, never URLs. Spread them across official
sources, community discussion, practical guides, and critical takes.

Respond EXACTLY in this format:

=== SESSION TITLE ===
[concise title, max 10 words]

=== QUERIES ===
query 1: [search terms]
query 2: [search terms]
query 3: [search terms]
query 4: [search terms]`

// Overview builds the stage-1 prompt from the user's question.
func Overview(userQuery, language string) Pair {
	return Pair{
		System: overviewSystem + languageInstruction(language),
		User:   "Research question:\n\n" + userQuery,
	}
}

const thinkSystem = `You are an experienced research strategist.

Analyze the current research point and develop a precise search strategy.

ONLY GENERATE SIMPLE SEARCH TERMS - NO URLS!
WRONG: https://github.com/search?q=adaptive+chunking
WRONG: site:github.com adaptive chunking
RIGHT: adaptive chunking implementation

Diversify: never fire all searches in the same direction. Cover at least
four perspectives: Primary (official docs, repos, papers), Community
(forums, discussions), Practical (tutorials, examples), Critical (problems,
limitations, alternatives), Current (recent developments).

Respond EXACTLY in this format:

=== THINKING ===
[what you need, why, which aspects matter]

=== SEARCHES ===
search 1 (Primary): [query]
search 2 (Primary): [query]
search 3 (Community): [query]
search 4 (Community): [query]
search 5 (Practical): [query]
search 6 (Practical): [query]
search 7 (Critical): [query]
search 8 (Critical): [query]
search 9 (Current): [query]
search 10 (Current): [query]`

// Think builds the per-point search-strategy prompt. The full learnings
// list rides along so the model does not re-search covered ground.
func Think(userQuery, currentPoint string, previousLearnings []string, language string) Pair {
	var b strings.Builder
	b.WriteString("# CONTEXT\n\n## Main Task\n")
	b.WriteString(userQuery)
	b.WriteString("\n\n## Current Research Point\n")
	b.WriteString(currentPoint)
	b.WriteString("\n")
	if len(previousLearnings) > 0 {
		b.WriteString("\n## Previous Findings (from earlier points)\n\n")
		b.WriteString("IMPORTANT: You already have this information. Do NOT search for it again!\n")
		fmt.Fprintf(&b, "Focus on NEW aspects relevant to %q.\n\n", currentPoint)
		for i, l := range previousLearnings {
			fmt.Fprintf(&b, "**Point %d:**\n%s\n\n---\n", i+1, l)
		}
	}
	b.WriteString("\n# TASK\n\nDevelop a search strategy with concrete search queries for the research point above.")
	return Pair{System: thinkSystem + languageInstruction(language), User: b.String()}
}

const pickURLsSystem = `You are a research assistant selecting the most relevant sources.

Given a research task and search results (title, URL, snippet), select the
most relevant, authoritative, and diverse sources.

Criteria: relevance to the task, authority of the source, diversity of
perspectives, quality over clickbait, recency when the topic is
time-sensitive. Avoid picking many URLs from the same domain.

Respond EXACTLY in this format (8-12 urls, one per line):

url 1: https://...
url 2: https://...
rejected: [url or domain] - [short reason]
rejected: [url or domain] - [short reason]`

// PickURLs builds the source-selection prompt. thinking and
// previousLearnings are empty in stage 2 and populated inside the deep
// loop.
func PickURLs(task, currentPoint, thinking, formattedResults, previousLearnings, language string) Pair {
	var b strings.Builder
	b.WriteString("# RESEARCH TASK\n")
	b.WriteString(task)
	b.WriteString("\n")
	if currentPoint != "" {
		b.WriteString("\n# CURRENT RESEARCH POINT\n")
		b.WriteString(currentPoint)
		b.WriteString("\n")
	}
	if thinking != "" {
		b.WriteString("\n# YOUR SEARCH STRATEGY\n")
		b.WriteString(thinking)
		b.WriteString("\n")
	}
	if previousLearnings != "" {
		b.WriteString("\n# ALREADY COVERED (do not re-select sources for these)\n")
		b.WriteString(previousLearnings)
		b.WriteString("\n")
	}
	b.WriteString("\n# SEARCH RESULTS\n")
	b.WriteString(formattedResults)
	b.WriteString("\n\nSelect the best sources now.")
	return Pair{System: pickURLsSystem + languageInstruction(language), User: b.String()}
}

const clarifySystem = `You are a research assistant refining the scope of a research session.

Based on the user's question and the initial page content gathered, write a
brief message that acknowledges the topic and asks 2-4 focused follow-up
questions covering scope, depth, specific interests, or output preferences.
Do not ask questions the original query already answers. Number the
questions.`

// Clarify builds the stage-3 prompt from the session context and fetched
// page excerpts.
func Clarify(formattedState, pageContent, language string) Pair {
	var b strings.Builder
	b.WriteString(formattedState)
	b.WriteString("\n=== PAGE CONTENT ===\n")
	b.WriteString(pageContent)
	b.WriteString("\n\nWrite your clarification message with numbered questions.")
	return Pair{System: clarifySystem + languageInstruction(language), User: b.String()}
}

const planSystem = `You are a research planning assistant creating a structured research plan.

Based on the research question and any clarification answers, break the
research into 5-8 distinct, researchable points ordered from foundational
to specific. Each point must be actionable on its own.

Respond EXACTLY in this format, one block per point, blank line between
blocks:

(1) First research point
(2) Second research point
(3) Third research point`

const planAcademicExtra = `

This is an ACADEMIC research request. Structure the plan to academic
standards: include methodology considerations, literature-review coverage,
theoretical framing, and source-verification steps.`

// Plan builds the stage-4 prompt from the formatted session state.
func Plan(formattedState string, academicMode bool, language string) Pair {
	system := planSystem
	if academicMode {
		system += planAcademicExtra
	}
	return Pair{
		System: system + languageInstruction(language),
		User:   formattedState + "\nCreate the research plan now.",
	}
}

const dossierSystemCommon = `You are an expert in analysis and knowledge preparation.

START IMMEDIATELY with ## 📋 HEADER. No preamble, no meta-commentary.

CITATIONS: every factual statement carries a citation like [1], numbered
sequentially in the order sources are listed. At the end, list the sources
in a === SOURCES === block.

HARD RULES:
1. Use ONLY information from the provided sources; missing information is
   "not specified in sources".
2. Every evidence entry needs a short verbatim snippet (max 20 words).
3. Output language matches the user's original query language, regardless
   of source language.
4. ALWAYS end with "=== END DOSSIER ===".`

const dossierStructure = `

Produce these sections:

## 📋 HEADER
- **Topic:** the research point
- **Relevance:** 1-2 sentences tying it to the main goal
- **Sources:** count and type

## 📊 EVIDENCE
| # | Source | Type | Core Statement | Evidence Snippet | Rating |
|---|--------|------|----------------|------------------|--------|
| [1] | ... | ... | ... | "..." | ⭐⭐⭐ |

## 🎯 CORE SUMMARY
5-7 numbered findings, each with citations.

## 🔍 ANALYSIS
Context, core mechanisms or arguments, connections, trade-offs.

## ⚖️ EVALUATION
Strengths, weaknesses, open questions.

## 💡 KEY LEARNINGS
**Findings:** up to 5 one-sentence findings with citations.
**Best Sources:** up to 3 entries, why each is valuable.
**For Next Steps:** one sentence for subsequent research points.

=== SOURCES ===
[1] URL_OF_SOURCE_1 - short description
[2] URL_OF_SOURCE_2 - short description
=== END SOURCES ===

=== END DOSSIER ===`

const dossierAcademicStructure = `

Produce these sections (all MANDATORY, academic rigor):

## 📋 HEADER
- **Topic:**, **Relevance:**, **Sources:**, **Research Quality:**

## 📊 EVIDENCE
| # | Paper/Source | Year | Venue | Contribution | Key Result | Evidence Snippet | Rating |
|---|--------------|------|-------|--------------|------------|------------------|--------|

## 🎯 CORE SUMMARY
5-7 numbered findings reflecting scholarly consensus, each cited.

## 🔍 ANALYSIS
Background, methodology, theoretical framework, key debates, connections.

## 🔬 CLAIM AUDIT
| Claim | Source | Metric | Baseline | Methodology | Result | Limitations | Confidence |

## ⚖️ EVALUATION
Strengths, weaknesses, research gaps.

## 💡 KEY LEARNINGS
**Findings:**, **Best Sources:**, **For Next Steps:** as in the standard
format.

=== SOURCES ===
[1] URL_OF_SOURCE_1 - short description
=== END SOURCES ===

=== END DOSSIER ===`

// Dossier builds the per-point dossier prompt over the scraped sources.
// academicMode selects the stricter template.
func Dossier(userQuery, currentPoint, thinking, scrapedContent string, academicMode bool, language string) Pair {
	system := dossierSystemCommon
	if academicMode {
		system += dossierAcademicStructure
	} else {
		system += dossierStructure
	}
	var b strings.Builder
	b.WriteString("MAIN GOAL:\n")
	b.WriteString(userQuery)
	b.WriteString("\n\nCURRENT RESEARCH POINT:\n")
	b.WriteString(currentPoint)
	b.WriteString("\n\nYOUR PREVIOUS THOUGHTS:\n")
	b.WriteString(thinking)
	b.WriteString("\n\nRESEARCHED SOURCES:\n")
	b.WriteString(scrapedContent)
	b.WriteString("\n\nCreate the dossier now.")
	return Pair{System: system + languageInstruction(language), User: b.String()}
}

const synthesisSystem = `You are a senior research writer producing the final report of a
deep-research session.

You receive the original task, the research plan, and one dossier per plan
point. Write a single cohesive long-form report that synthesizes all
dossiers: an executive summary, one section per major theme (not
necessarily per dossier), and a conclusion.

CITATIONS: the dossiers already use global citation numbers [N]. Keep those
numbers EXACTLY as they are; never renumber. End the report with a
=== SOURCES === block listing every cited number as
[N] URL - short description
followed by === END SOURCES === and then === END REPORT ===.`

const synthesisAcademicExtra = `

ACADEMIC MODE: use formal register, separate the report into Introduction,
Related Work, Analysis, Discussion, Limitations, and Conclusion, and keep
claims strictly within what the dossiers support.`

// FinalSynthesis builds the terminal report prompt over all dossiers.
func FinalSynthesis(userQuery, formattedPlan, formattedDossiers string, academicMode bool, language string) Pair {
	system := synthesisSystem
	if academicMode {
		system += synthesisAcademicExtra
	}
	var b strings.Builder
	b.WriteString("ORIGINAL TASK:\n")
	b.WriteString(userQuery)
	b.WriteString("\n\nRESEARCH PLAN:\n")
	b.WriteString(formattedPlan)
	b.WriteString("\n\nDOSSIERS:\n")
	b.WriteString(formattedDossiers)
	b.WriteString("\n\nWrite the final report now.")
	return Pair{System: system + languageInstruction(language), User: b.String()}
}
