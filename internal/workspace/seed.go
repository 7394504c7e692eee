package workspace

import "time"

// Seed returns the document a brand-new workspace starts with.
func Seed(now time.Time) Document {
	ms := Millis(now)
	return Document{
		Tasks: []Task{
			{ID: "1", Title: "Review Q3 goals", Completed: false, Priority: PriorityHigh, CreatedAt: ms, Color: ColorRed},
			{ID: "2", Title: "Email marketing team", Completed: true, Priority: PriorityMedium, CreatedAt: ms - 100000, Color: ColorBlue},
		},
		Links: []LinkItem{
			{ID: "1", Title: "Gemini API Docs", URL: "https://ai.google.dev", Category: "Dev", CreatedAt: ms},
		},
		Sheets: []SheetItem{
			{ID: "1", Title: "Project Budget", URL: "https://docs.google.com/spreadsheets", LastOpened: ms},
		},
		Notes: []StickyNote{
			{ID: "1", Content: "Remember to drink water!", Color: ColorBlue, CreatedAt: ms},
			{ID: "2", Content: "Meeting notes:\n- Discuss new timeline\n- Approve budget", Color: ColorYellow, CreatedAt: ms},
		},
		RevisionTimestamp: ms,
	}
}
