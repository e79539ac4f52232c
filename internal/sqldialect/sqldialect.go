// SPDX-License-Identifier: AGPL-3.0
// Copyright 2025 Kadir Pekel
//
// Licensed under the GNU Affero General Public License v3.0 (AGPL-3.0) (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.gnu.org/licenses/agpl-3.0.en.html
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package sqldialect holds the few differences between the SQL dialects the
// stores run on.
package sqldialect

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	Postgres = "postgres"
	MySQL    = "mysql"
	SQLite   = "sqlite"
)

// Check returns an error for unsupported dialects.
func Check(dialect string) error {
	switch dialect {
	case Postgres, MySQL, SQLite:
		return nil
	}
	return fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
}

// Rebind rewrites ? placeholders to $n for postgres. Queries must not
// contain literal question marks.
func Rebind(dialect, query string) string {
	if dialect != Postgres || !strings.Contains(query, "?") {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Statements splits a schema script on semicolons. The mysql driver runs
// one statement per Exec unless multiStatements is set.
func Statements(script string) []string {
	var out []string
	for _, s := range strings.Split(script, ";") {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
