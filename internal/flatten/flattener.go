// Package flatten turns the backend's tree-shaped project audit payload into
// the flat, contextualized record list the dashboard consumes.
package flatten

import (
	"fmt"
	"sort"

	"github.com/Mordig101/apqp-history/internal/domain"
)

// recordContext carries the ancestry labels a tree level stamps onto every
// record it emits.
type recordContext struct {
	title           string
	sourceName      string
	parentName      string
	grandparentName string
	table           domain.HistoryTable
}

// Flatten walks one project's nested audit tree and emits one record per
// (entity, event) pair. Absent branches contribute zero records.
//
// Ancestry labels follow the dashboard's established display contract: a
// document's grandparent is its phase (not the project), and users carry no
// grandparent at all. Both lean asymmetric but are kept as observed.
func Flatten(nested domain.NestedHistory, projectName string) []domain.HistoryRecord {
	records := make([]domain.HistoryRecord, 0)

	records = appendHistory(records, nested.Project, recordContext{
		title:      projectName,
		sourceName: projectName,
		table:      domain.HistoryTableProject,
	})

	if ppap := nested.PPAP; ppap != nil {
		records = appendHistory(records, ppap.History, recordContext{
			title:      "PPAP for " + projectName,
			sourceName: "PPAP",
			parentName: projectName,
			table:      domain.HistoryTablePPAP,
		})
		for _, phaseID := range sortedKeys(ppap.Phases) {
			phase := ppap.Phases[phaseID]
			records = appendHistory(records, phase.History, recordContext{
				title:           phase.Name,
				sourceName:      phase.Name,
				parentName:      "PPAP",
				grandparentName: projectName,
				table:           domain.HistoryTablePhase,
			})
			for _, outputID := range sortedKeys(phase.Outputs) {
				output := phase.Outputs[outputID]
				records = appendHistory(records, output.History, recordContext{
					title:           output.Name,
					sourceName:      output.Name,
					parentName:      phase.Name,
					grandparentName: projectName,
					table:           domain.HistoryTableOutput,
				})
				for _, documentID := range sortedKeys(output.Documents) {
					document := output.Documents[documentID]
					records = appendHistory(records, document.History, recordContext{
						title:           document.Name,
						sourceName:      document.Name,
						parentName:      output.Name,
						grandparentName: phase.Name,
						table:           domain.HistoryTableDocument,
					})
				}
			}
		}
	}

	if team := nested.Team; team != nil {
		records = appendHistory(records, team.History, recordContext{
			title:      "Team for " + projectName,
			sourceName: "Team",
			parentName: projectName,
			table:      domain.HistoryTableTeam,
		})
		for _, personID := range sortedKeys(team.Persons) {
			person := team.Persons[personID]
			records = appendHistory(records, person.History, recordContext{
				title:           person.Name,
				sourceName:      person.Name,
				parentName:      "Team",
				grandparentName: projectName,
				table:           domain.HistoryTablePerson,
			})
		}
	}

	for _, user := range nested.Users {
		records = appendHistory(records, user.History, recordContext{
			title:      user.Username,
			sourceName: user.Username,
			parentName: projectName,
			table:      domain.HistoryTableUser,
		})
	}

	return records
}

// FlattenPage flattens every project of a paginated response, concatenates
// the results in project-ID order, and sorts most recent first.
func FlattenPage(response domain.PaginatedHistory) []domain.HistoryRecord {
	records := make([]domain.HistoryRecord, 0)
	for _, projectID := range sortedKeys(response.Results) {
		project := response.Results[projectID]
		records = append(records, Flatten(project.History, project.ProjectName)...)
	}
	SortByCreatedAt(records)
	return records
}

// SortByCreatedAt orders records by creation time descending. The sort is
// stable so equal timestamps keep their flattening order; unparsable
// timestamps sink to the end.
func SortByCreatedAt(records []domain.HistoryRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		left, _ := domain.ParseCreatedAt(records[i].CreatedAt)
		right, _ := domain.ParseCreatedAt(records[j].CreatedAt)
		return left.After(right)
	})
}

// appendHistory fans out every raw record of one tree node under its context.
func appendHistory(dst []domain.HistoryRecord, history []domain.RawHistoryRecord, ctx recordContext) []domain.HistoryRecord {
	for _, raw := range history {
		dst = append(dst, fanOut(raw, ctx)...)
	}
	return dst
}

// fanOut expands a raw record into one flattened record per structured event.
// A record with k events becomes k records with ids id, id-1, ... id-(k-1) so
// list rendering keys stay unique. A record without structured events stays a
// single record and keeps its legacy event summary for display fallback.
func fanOut(raw domain.RawHistoryRecord, ctx recordContext) []domain.HistoryRecord {
	base := domain.HistoryRecord{
		ID:              raw.ID,
		Title:           ctx.title,
		Event:           raw.Event,
		EventCount:      len(raw.Events),
		CreatedAt:       raw.CreatedAt,
		CreatedBy:       raw.CreatedBy,
		TableName:       ctx.table,
		SourceName:      ctx.sourceName,
		ParentName:      ctx.parentName,
		GrandparentName: ctx.grandparentName,
	}
	if len(raw.Events) == 0 {
		return []domain.HistoryRecord{base}
	}
	out := make([]domain.HistoryRecord, 0, len(raw.Events))
	for index, event := range raw.Events {
		record := base
		if index > 0 {
			record.ID = fmt.Sprintf("%s-%d", raw.ID, index)
		}
		record.Events = []domain.RawHistoryEvent{event}
		out = append(out, record)
	}
	return out
}

// sortedKeys fixes a deterministic traversal order for keyed tree branches.
func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
