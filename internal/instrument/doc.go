// Package instrument holds the catalog of tradable instruments (CBR
// currencies and MOEX shares) and the search used by the bot's /search
// command and plain-text suggestions.
//
// Matching is case-insensitive on the code (equal, prefix, or substring) or
// on the display name (substring). Results are ranked exact code first, then
// code prefix, then shorter codes, then alphabetically.
package instrument
