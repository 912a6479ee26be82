package storage

const Schema = `
-- One row per annotated image; path is the absolute file path
CREATE TABLE IF NOT EXISTS images (
    id INTEGER PRIMARY KEY,
    path TEXT NOT NULL UNIQUE,
    title TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS index_images_on_path ON images(path);

-- One row per vector component, read back in insertion order
CREATE TABLE IF NOT EXISTS semantic_vectors (
    id INTEGER PRIMARY KEY,
    image_id INTEGER NOT NULL,
    value REAL NOT NULL,
    FOREIGN KEY (image_id) REFERENCES images(id)
);
CREATE INDEX IF NOT EXISTS index_semantic_vectors_on_image_id ON semantic_vectors(image_id);
`
