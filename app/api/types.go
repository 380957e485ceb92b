package api

import (
	"github.com/pechincha/harvester/app/database"
)

type Handler struct {
	listingRepo database.ListingRepository
	runRepo     database.RunRepository
}
