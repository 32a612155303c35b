// lcdk is the Light Curve Development Kit. It loads large collections of
// astronomical time-series observations into a time-series store, partitioned
// by sky position, and serves cone searches and per-object time-range queries
// against that store.
//
// The root package holds the types shared by every stage and the narrow
// interfaces through which the store is used. The stages themselves live in
// sub-packages.
//
// 1. healpix
//
//    Maps a sky position to a partition key, the id of the nested HEALPix
//    pixel containing it at a fixed resolution, and answers which pixels
//    intersect a disc on the sky.
//
// 2. catalog
//
//    Scans a coordinate table and one or more measurement files into an
//    in-memory map from object id to Source. Column order differs between
//    measurement formats, so the parser's column mapping is a Layout rather
//    than a fixed format. Rows that don't parse are skipped and counted.
//
// 3. schema
//
//    Makes sure the container and parent table exist before anything is
//    written, then creates all child tables in large batches. A failed batch
//    is counted and the remaining batches still run.
//
// 4. ingest
//
//    Shards the sources across a pool of workers. Each worker owns one
//    connection and one prepared insert statement, and writes its shard in
//    fixed-size batches. A progress monitor samples the shared counters,
//    writes snapshots, and watches for a stop request.
//
// 5. query
//
//    Narrows a cone search to a set of coarse pixels, fetches every row in
//    those pixels with one query, and keeps only rows whose exact angular
//    distance is within the radius.
package lcdk
