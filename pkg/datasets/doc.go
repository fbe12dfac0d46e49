// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

/*
Package datasets materializes platform datasets on local disk.

A Dataset handle resolves its descriptor (storage path and record list)
from the metadata API on first need, then copies or downloads every
record into a destination directory, rewriting each record's FilePath to
the new local file.

# Downloading

Records are fetched by URL. HTTP(S) URLs are streamed; tos:// URLs are
read from the object store, with the bucket taken from the first label
of the host and the key from the path. The URL path decides where the
file lands under the destination root:

	https://host/a/b/c.bin           -> <dest>/a/b/c.bin
	tos://my-bucket.example/a/b.bin  -> <dest>/a/b.bin (bucket my-bucket, key a/b.bin)

	ds, err := datasets.New(datasets.WithID("d-123"))
	if err != nil {
		log.Fatal(err)
	}
	if err := ds.Download(ctx, "./Datasets/d-123"); err != nil {
		log.Fatal(err)
	}

# Copying

A dataset that already lives on disk is copied record by record,
keeping each file's position relative to the old root:

	ds, _ := datasets.New(datasets.WithLocalPath("./Datasets/d-123"))
	err := ds.CopyTo(ctx, "/mnt/scratch/d-123")

# Failures

Resolution failures match ErrInvalidDataset; unsupported URL schemes
match ErrInvalidURL. Materialization stops at the first failing record
and reports it as a *RecordError. Nothing is retried and files written
before the failure are left in place.
*/
package datasets
