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

package agent

import (
	"fmt"

	"github.com/your-org/sql-analytics-agent/internal/session"
)

const classifySystemPrompt = `You are a decision support consultant helping users make data-driven decisions.
Decide the next action for the latest user question.

1. Is the question non-analytical or already answered?
   - Pleasantries such as "thank you", "hello" or "how are you" -> "B"
   - The same question was already answered earlier in the conversation -> "B"
2. Does the requested data exist?
   - The user asks for data or metrics that the schema does not hold, and the schema lists no synonym or related term for them -> "C"
3. Anything else -> "Continue"`

func classifyUserPrompt(s TurnState) string {
	return fmt.Sprintf(`Database schema:
%s

Conversation history:
%s

Question:
%s`, s.SchemaDoc, session.Transcript(s.History), s.Question)
}
