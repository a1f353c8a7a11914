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

package recovery

import "fmt"

func repairSystemPrompt(dialect string) string {
	return fmt.Sprintf(`You fix SQL queries written for %s.
You receive a query, the error the database returned and the tables and columns that exist.
Return the complete corrected query, not a diff. Use only the tables and columns listed.
Keep the intent of the original query unchanged. Do not add comments to the SQL.`, dialect)
}

func repairUserPrompt(query, errText, schemaDoc string) string {
	return fmt.Sprintf(`Query:
%s

Error:
%s

Available tables and columns:
%s`, query, errText, schemaDoc)
}

func refineSystemPrompt(dialect string) string {
	return fmt.Sprintf(`You rewrite %s queries whose result is too large to hand to an analyst.
Return one complete replacement query that answers the same analytical intent with a smaller result.
Pick the techniques that fit:
A. Aggregate raw rows with SUM, COUNT or AVG instead of listing them.
B. Move dates to a coarser granularity, such as days to months.
C. Group continuous numeric values into buckets.
D. Add filters. Take date ranges from the schema notes instead of relative dates.
E. Keep the top 20 rows and at most 5 columns, with an explicit ORDER BY.
Never drop a dimension the analytical intent names; only reduce how many values it has.
Do not add comments to the SQL.`, dialect)
}

func refineUserPrompt(intent, query, schemaDoc string) string {
	return fmt.Sprintf(`Analytical intent:
%s

Current query:
%s

Schema:
%s`, intent, query, schemaDoc)
}
