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

package execution

import "fmt"

const insightSystemPrompt = `You are an expert data analyst.
Given a SQL query and the result it produced, state the key findings directly as facts.
Do not give your own assessment of the results.
Avoid technical words such as "data", "dataset", "table", "list", "provided information" or "query".`

func insightUserPrompt(query, result string) string {
	return fmt.Sprintf("SQL query:\n%s\n\nResult:\n%s", query, result)
}

const explanationSystemPrompt = `Highlight parts of a SQL query for a non-technical reader.
Use at most 3 very short bullets and keep only the most important points.
Only these highlight types are allowed, and only when present:
- filters applied, for example "excluded inactive affiliates"
- the time range of a source table that holds data over time, for example "account snapshot dates between 2021 and 2022"
- a TOP X row limit, for example "results limited to top 10 affiliates by assets"
Leave out filters that only select current records.`

func explanationUserPrompt(query string) string {
	return fmt.Sprintf("SQL query:\n%s", query)
}
