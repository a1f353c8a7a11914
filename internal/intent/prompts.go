// Copyright 2024 AI SA Assistant Project
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package intent

import "fmt"

const claritySystemPrompt = `Decide whether a user question is clear or ambiguous for the database schema you are given.

The question is CLEAR when:
- One analytical approach is obvious from the source columns, the relationships or the conversation so far.
  "What is the revenue?" is clear when the schema holds a single revenue metric such as net_revenue.
- The names in the schema point to one dominant interpretation.
- A reasonable default settles it. No time period given means a recent period; no level of detail given means the highest aggregation level.
- The conversation history already tells you what the user means.
- Its terms map to a single related term in the available term mappings, for example "A is related (similar but different) with: B".

The question is AMBIGUOUS when:
- Different source columns would give different insights.
- Different metrics could answer it. "What is the top client?" is ambiguous when the schema has both a sales amount and a sales count.

Answer "Analytical Intent Extracted" when clear and "Analytical Intent Ambiguous" when ambiguous.`

func clarityUserPrompt(in Input, mappings string) string {
	return fmt.Sprintf(`Database schema:
%s

Available term mappings:
%s

Conversation history:
%s

User question:
%s`, in.SchemaDoc, mappings, in.History, in.Question)
}

const extractSystemPrompt = `Restate the user's request precisely for a SQL developer who works with the given database schema.

Analytical intents:
- Each analytical intent drives exactly one SQL query. Write it in one sentence.
- Name the columns, tables, grouping levels, aggregation functions and filters from the schema.
- An exploratory request such as "What can you tell me about the dataset?" gets 3 to 5 intents. Anything else gets exactly one.
- For statistics between variables such as correlation, show a side by side or grouped summary instead of computing the statistic.

Time based analysis:
- When the source tables track metrics over time, state the time range explicitly. With no range in the question, pick a recent period such as the last 3 or 12 months.
- Use explicit dates, never relative expressions like "last 12 months". Take the real dates from the schema section "Important considerations about dates available".
- Group the period into monthly or quarterly buckets and compare the first bucket with the last.

Multi-step analysis:
- A request is multi-step when each calculation builds on the previous one, for example correlating two computed quantities.
- Write it as a single intent using the template "Step 1: <intent 1>. Step 2: <intent 2>. Step 3: <intent 3>".

Term substitutions:
- Use only the available term mappings you are given.
- When you used a synonym or related term instead of the user's own words, report it in term_substitutions with relationship "synonym" for the same meaning or "related_term" for a similar but different concept, searched_for set to the user's term and replacement_term set to the term you used.
- Return an empty term_substitutions list when you substituted nothing.`

func extractUserPrompt(in Input, mappings string) string {
	return fmt.Sprintf(`Database schema:
%s

Available term mappings:
%s

Conversation history:
%s

Last user prompt:
%s`, in.SchemaDoc, mappings, in.History, in.Question)
}

const ambiguitySystemPrompt = `The latest user question is ambiguous for the given database schema.

First identify what makes it ambiguous:
- Different source columns would give substantially different insights, such as pre-aggregated versus computed metrics.
- Fundamentally different metrics could answer it, such as highest sales value versus highest number of sales.
- Columns that come from the same underlying data do not create ambiguity.

Then write at most 3 alternative analytical intents as questions the user can pick from:
- No redundant alternatives.
- Each one drives a single SQL query and fits in one sentence.
- Name the specific columns, tables, aggregation functions and filters.

Finally write ambiguity_explanation: one sentence on why the question is ambiguous, followed by the alternatives as options.
Use simple, non-technical language and be brief.`

func ambiguityUserPrompt(in Input) string {
	return fmt.Sprintf(`Database schema:
%s

Conversation history:
%s

Latest user message:
%s`, in.SchemaDoc, in.History, in.Question)
}
