package main

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	adminDefaultPage    = 1
	adminDefaultPerPage = 50
	adminMaxPerPage     = 200
)

func parseAdminPage(rawPage string) int {
	page, err := strconv.Atoi(strings.TrimSpace(rawPage))
	if err != nil || page < adminDefaultPage {
		return adminDefaultPage
	}
	return page
}

func parseAdminPerPage(rawPerPage string) int {
	perPage, err := strconv.Atoi(strings.TrimSpace(rawPerPage))
	if err != nil || perPage < 1 {
		return adminDefaultPerPage
	}
	if perPage > adminMaxPerPage {
		return adminMaxPerPage
	}
	return perPage
}

type adminPaginationViewData struct {
	CurrentPage int    `json:"current_page"`
	TotalPages  int    `json:"total_pages"`
	TotalCount  int    `json:"total_count"`
	PerPage     int    `json:"per_page"`
	NextPage    int    `json:"next_page"`
	PrevPage    int    `json:"prev_page"`
	HasNext     bool   `json:"has_next"`
	HasPrev     bool   `json:"has_prev"`
	NextURL     string `json:"next_url,omitempty"`
	PrevURL     string `json:"prev_url,omitempty"`
}

// adminPageBounds returns the slice window of one page, clamping pages past
// the end to the last page.
func adminPageBounds(totalCount, page, pageSize int) (start, end, currentPage int) {
	if pageSize < 1 {
		pageSize = adminDefaultPerPage
	}
	currentPage = page
	if currentPage < adminDefaultPage {
		currentPage = adminDefaultPage
	}
	if totalCount == 0 {
		return 0, 0, adminDefaultPage
	}
	lastPage := (totalCount + pageSize - 1) / pageSize
	if currentPage > lastPage {
		currentPage = lastPage
	}
	start = (currentPage - 1) * pageSize
	end = start + pageSize
	if end > totalCount {
		end = totalCount
	}
	return start, end, currentPage
}

func buildAdminPaginationView(totalCount, currentPage, pageSize int, pageURL string) adminPaginationViewData {
	if pageSize < 1 {
		pageSize = adminDefaultPerPage
	}
	if currentPage < adminDefaultPage {
		currentPage = adminDefaultPage
	}

	totalPages := 0
	if totalCount > 0 {
		totalPages = (totalCount + pageSize - 1) / pageSize
	}

	pageSeparator := "?"
	if strings.Contains(pageURL, "?") {
		pageSeparator = "&"
	}
	pageLink := func(page int) string {
		return fmt.Sprintf("%s%spage=%d&per_page=%d", pageURL, pageSeparator, page, pageSize)
	}

	view := adminPaginationViewData{
		CurrentPage: currentPage,
		TotalPages:  totalPages,
		TotalCount:  totalCount,
		PerPage:     pageSize,
		NextPage:    currentPage + 1,
		PrevPage:    currentPage - 1,
		HasNext:     currentPage < totalPages,
		HasPrev:     currentPage > adminDefaultPage,
	}
	if view.HasNext {
		view.NextURL = pageLink(view.NextPage)
	}
	if view.HasPrev {
		view.PrevURL = pageLink(view.PrevPage)
	}
	return view
}
