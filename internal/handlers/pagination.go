package handlers

import (
	"strconv"

	"github.com/tonylyon7/Fitness/internal/models"
)

const (
	defaultPageLimit = 50
	maxPageLimit     = 100
)

func buildPaginationMeta(page, limit, total int) models.PaginationMeta {
	pages := 0
	if total > 0 {
		pages = (total + limit - 1) / limit
	}

	return models.PaginationMeta{
		Current: page,
		Pages:   pages,
		Total:   total,
	}
}

func parsePositiveInt(value string, fallback int) int {
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed <= 0 {
		return fallback
	}
	return parsed
}
