// Package space resolves space ids to their grid dimensions.
//
// A space is the persisted definition behind a room: an id, a display name
// and a width and height in tiles. The presence core only needs existence
// and dimensions, which it asks for through the Lookup interface.
//
// Three implementations are provided:
//   - FileCatalog reads <id>.json files from a directory and caches them.
//   - PostgresStore queries the "Space" table through a pgx connection pool.
//   - Chain tries several lookups in order; not-found falls through to the
//     next one, any other error stops the chain.
//
// Space file format:
//
//	{
//	  "id": "lobby",
//	  "name": "Lobby",
//	  "width": 20,
//	  "height": 12
//	}
package space
