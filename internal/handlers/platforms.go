package handlers

import (
	"net/http"

	"stratis-backend/internal/models"
)

func ListPlatforms(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"platforms":         models.Platforms,
		"repurpose_targets": models.RepurposeTargets,
		"default_author":    models.DefaultAuthorProfile(),
	})
}
