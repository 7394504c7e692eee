package workspace

// Patch is a document-shaped local edit. A non-nil replacement collection
// swaps the current one wholesale; Prepend items are then placed ahead of the
// existing items of their collection.
type Patch struct {
	Tasks   *[]Task
	Links   *[]LinkItem
	Sheets  *[]SheetItem
	Notes   *[]StickyNote
	Prepend Collections
}

func ReplaceTasks(tasks []Task) Patch { return Patch{Tasks: &tasks} }
func ReplaceLinks(links []LinkItem) Patch { return Patch{Links: &links} }
func ReplaceSheets(sheets []SheetItem) Patch { return Patch{Sheets: &sheets} }
func ReplaceNotes(notes []StickyNote) Patch { return Patch{Notes: &notes} }
func PrependBatch(batch Collections) Patch { return Patch{Prepend: batch} }

// ReplaceAll swaps every collection for the ones in doc.
func ReplaceAll(doc Document) Patch {
	doc.EnsureCollections()
	return Patch{Tasks: &doc.Tasks, Links: &doc.Links, Sheets: &doc.Sheets, Notes: &doc.Notes}
}

func (p Patch) Empty() bool {
	return p.Tasks == nil && p.Links == nil && p.Sheets == nil && p.Notes == nil && p.Prepend.Empty()
}

// Apply merges p over doc in place. The revision timestamp is left to the caller.
func (p Patch) Apply(doc *Document) {
	if p.Tasks != nil {
		doc.Tasks = append([]Task{}, (*p.Tasks)...)
	}
	if p.Links != nil {
		doc.Links = append([]LinkItem{}, (*p.Links)...)
	}
	if p.Sheets != nil {
		doc.Sheets = append([]SheetItem{}, (*p.Sheets)...)
	}
	if p.Notes != nil {
		doc.Notes = append([]StickyNote{}, (*p.Notes)...)
	}
	if len(p.Prepend.Tasks) > 0 {
		doc.Tasks = append(append([]Task{}, p.Prepend.Tasks...), doc.Tasks...)
	}
	if len(p.Prepend.Links) > 0 {
		doc.Links = append(append([]LinkItem{}, p.Prepend.Links...), doc.Links...)
	}
	if len(p.Prepend.Sheets) > 0 {
		doc.Sheets = append(append([]SheetItem{}, p.Prepend.Sheets...), doc.Sheets...)
	}
	if len(p.Prepend.Notes) > 0 {
		doc.Notes = append(append([]StickyNote{}, p.Prepend.Notes...), doc.Notes...)
	}
	doc.EnsureCollections()
}
