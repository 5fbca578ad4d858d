// Package artifact — хранилище артефактов с адресацией по содержимому.
//
// Хранилище — единственный разделяемый изменяемый ресурс движка. Запись
// append-only: Put с уже известным Fingerprint возвращает существующий
// артефакт и ничего не перезаписывает. Узлы хранят только ссылки
// (fingerprint) на свои входы и выходы.
//
// Реализации:
//   - MemStore — в памяти процесса
//   - repo.ArtifactRepo — PostgreSQL
//
// Fingerprint внешнего файла — sha256 содержимого. Fingerprint выхода узла
// выводится из ключа кэша узла (см. CacheKey), поэтому одинаковые входы и
// параметры всегда дают одинаковые fingerprint.
//
// Файлы с одинаковым содержимым делят одну запись: её Subject, Type и
// Location берутся из первой регистрации.
package artifact
