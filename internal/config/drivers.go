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

package config

import "sort"

// LLM providers
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// driverDialects maps database/sql driver names to the SQL dialect named in prompts.
var driverDialects = map[string]string{
	"sqlite3":    "SQLite",
	"pgx":        "PostgreSQL",
	"mysql":      "MySQL",
	"clickhouse": "ClickHouse",
}

// SupportedDrivers returns the warehouse driver names in a stable order
func SupportedDrivers() []string {
	return sortedKeys(driverDialects)
}

// DialectForDriver returns the dialect name for a driver, or "" when unknown
func DialectForDriver(driver string) string {
	return driverDialects[driver]
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
