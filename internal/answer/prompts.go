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

package answer

import (
	"fmt"
	"strings"
)

const consultantIntro = `You are a decision support consultant helping users become more data-driven.
Continue the conversation from the latest user message and guide the user toward their analytical goal.`

const styleGuide = `Response guidelines:
- Use clear, non-technical language.
- Be concise and conversational.`

func scenarioPrompt(in Input, followUps []string) string {
	var b strings.Builder
	b.WriteString(consultantIntro)
	fmt.Fprintf(&b, "\n\nConversation history:\n%s\n\nLatest user message:\n%s\n\n", in.History, in.Question)

	switch in.Scenario {
	case ScenarioAnswerable:
		fmt.Fprintf(&b, "Base your answer on these insights and their raw results:\n%s\n\n", FormatInsights(in.Queries))
		b.WriteString("- Do not state facts the insights do not support.\n")
		b.WriteString("- Include every detail from the insights.\n")
		writeSuggestions(&b, followUps)
		b.WriteString("\n" + styleGuide + "\n")
		b.WriteString("- When the question is a sharp one, say so to build the user's confidence.\n")
		b.WriteString("- Ask which suggested next step the user prefers.\n")
		b.WriteString("- Close warmly, for example \"Keep up the great work!\"")

	case ScenarioSmallTalk:
		writeSuggestions(&b, followUps)
		b.WriteString("\n" + styleGuide + "\n")
		b.WriteString("- Ask which suggested next step the user prefers.")

	case ScenarioUnavailable:
		b.WriteString("The information the user asked for is not available in the database.\n")
		writeSuggestions(&b, followUps)
		b.WriteString("\n" + styleGuide + "\n")
		b.WriteString("- Ask which suggested next step the user prefers.")

	case ScenarioAmbiguous:
		b.WriteString("The latest message can be interpreted in more than one way.\n")
		fmt.Fprintf(&b, "Explain why: %s\n", in.AmbiguityExplanation)
		b.WriteString("Then ask the user to pick one of these options, listed exactly as written:\n")
		for _, alt := range in.Alternatives {
			fmt.Fprintf(&b, "- %s\n", alt)
		}
		b.WriteString("\n" + styleGuide)
	}

	return b.String()
}

func writeSuggestions(b *strings.Builder, followUps []string) {
	if len(followUps) == 0 {
		return
	}
	b.WriteString("- Suggest these next steps:\n")
	for _, q := range followUps {
		fmt.Fprintf(b, "  - %s\n", q)
	}
}

func followUpSystemPrompt(limit int) string {
	return fmt.Sprintf(`You are a decision support consultant helping users become more data-driven.
Work out the user's analytical goal from the conversation and the latest message, then suggest at most %d smart next steps that the database schema can support.

Kinds of next steps:
- Trends over time, only for tables holding several dates. "Want to see how this changed over time?"
- Drill-down. "Would you like to explore this by business line or advisor?"
- Top contributors to a change. "Want to see the top 5 advisors that drove this increase?"
- A possible cause. "Curious if fees could explain the drop? I can help with that."
- A coarser granularity when the user works at a low level, such as household instead of account.
- A narrower time range taken from "Important considerations about dates available".
- A filter on one attribute value taken from the schema, with a few example values.`, limit)
}

func followUpUserPrompt(in Input) string {
	return fmt.Sprintf(`Database schema:
%s

Conversation history:
%s

Latest user message:
%s`, in.SchemaDoc, in.History, in.Question)
}
