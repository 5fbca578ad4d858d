// Package pipeline содержит реестр декларативных шаблонов пайплайнов.
//
// Шаблон описывает обработку одной модальности как список слотов.
// Каждый слот заполняется ровно одним вариантом, который выбирается
// чистой функцией от конфигурации (Selector). Необязательные слоты
// создаются только при выполнении условия (Condition).
//
// Шаблоны проверяются при регистрации: варианты одного слота взаимозаменяемы,
// зависимости от других модальностей указывают на зарегистрированный шаблон,
// который объявляет нужный артефакт в Provides.
//
// Builtin возвращает реестр с семью встроенными семействами пайплайнов.
package pipeline
